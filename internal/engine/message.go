package engine

import (
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/roach88/dirrepl/internal/ir"
)

// Message is one combined update as received from a partner.
type Message struct {
	// Partner identifies the sender. When empty the update's Partner is used.
	Partner string `yaml:"partner,omitempty" json:"partner,omitempty"`

	// Cursor is the partner's replication position after this message.
	// Zero means the partner did not report one.
	Cursor int64 `yaml:"cursor,omitempty" json:"cursor,omitempty"`

	Update *ir.Update `yaml:"update" json:"update"`
}

// partner resolves the sending partner.
func (m Message) partner() string {
	if m.Partner != "" {
		return m.Partner
	}
	if m.Update != nil {
		return m.Update.Partner
	}
	return ""
}

// DecodeMessages reads a YAML stream of messages, one per document.
// Unknown fields are rejected.
func DecodeMessages(r io.Reader) ([]Message, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)

	var msgs []Message
	for i := 0; ; i++ {
		var m Message
		err := dec.Decode(&m)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("decode message %d: %w", i, err)
		}
		if m.Update == nil {
			return nil, fmt.Errorf("decode message %d: missing update", i)
		}
		msgs = append(msgs, m)
	}
	return msgs, nil
}

// LoadMessages reads messages from a YAML file.
func LoadMessages(path string) ([]Message, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open messages: %w", err)
	}
	defer f.Close()

	msgs, err := DecodeMessages(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return msgs, nil
}
