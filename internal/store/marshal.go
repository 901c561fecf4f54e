package store

import (
	"encoding/json"
	"fmt"

	"github.com/roach88/dirrepl/internal/ir"
)

// marshalAttributes converts attributes to canonical JSON TEXT for storage.
// Wire order is kept: the array is ordered, only object keys are sorted.
func marshalAttributes(attrs []ir.Attribute) (string, error) {
	list := make([]any, 0, len(attrs))
	for _, a := range attrs {
		vals := make([]any, len(a.Values))
		for i, v := range a.Values {
			vals[i] = v
		}
		list = append(list, map[string]any{
			"name":   a.Name,
			"values": vals,
		})
	}
	data, err := ir.MarshalCanonical(list)
	if err != nil {
		return "", fmt.Errorf("marshal attributes: %w", err)
	}
	return string(data), nil
}

// unmarshalAttributes parses attributes stored by marshalAttributes.
func unmarshalAttributes(data string) ([]ir.Attribute, error) {
	if data == "" || data == "[]" {
		return nil, nil
	}
	var attrs []ir.Attribute
	if err := json.Unmarshal([]byte(data), &attrs); err != nil {
		return nil, fmt.Errorf("unmarshal attributes: %w", err)
	}
	return attrs, nil
}
