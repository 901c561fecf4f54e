package split

import (
	"log/slog"

	"github.com/roach88/dirrepl/internal/ir"
	"github.com/roach88/dirrepl/internal/schema"
)

// Splitter partitions combined updates into ordered individual units.
//
// A Splitter holds no per-message state and may be shared across partner
// workers.
type Splitter struct {
	schema           schema.Schema
	deletedObjectsDN string
	logger           *slog.Logger
}

// Option configures a Splitter.
type Option func(*Splitter)

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(s *Splitter) {
		s.logger = logger
	}
}

// WithDeletedObjectsDN sets the deleted-objects container. When empty, any
// parent whose RDN is "cn=Deleted Objects" is treated as the container.
func WithDeletedObjectsDN(dn string) Option {
	return func(s *Splitter) {
		s.deletedObjectsDN = dn
	}
}

// New creates a Splitter resolving mandatory attributes through sch.
func New(sch schema.Schema, opts ...Option) *Splitter {
	s := &Splitter{
		schema: sch,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Result is the outcome of splitting one combined update.
type Result struct {
	// Units holds every unit in replay order (ascending USN). The rebased
	// combined update is among them, at the position of its USN.
	Units []*ir.Update

	// BaseUSN is the smallest sequence number, the one the combined update
	// kept after rebasing.
	BaseUSN int64

	// USNs lists every distinct sequence number found, descending.
	USNs []int64
}

// MaxUSN returns the largest sequence number among the units.
func (r *Result) MaxUSN() int64 {
	if len(r.USNs) == 0 {
		return r.BaseUSN
	}
	return r.USNs[0]
}

// Split runs extraction, rebasing and per-USN event extraction over combined.
//
// The work happens on a clone. On success combined is overwritten with the
// rebased result and returned as one of the units; on error combined is left
// as received and no unit is returned.
func (s *Splitter) Split(combined *ir.Update) (*Result, error) {
	work := combined.Clone()

	usns, err := ExtractUSNs(work)
	if err != nil {
		return nil, err
	}

	// Tombstones keep their object classes but not the attributes those
	// classes require, so only live Adds are checked.
	checked := work.SyncState == ir.SyncStateAdd && !s.tombstone(work)

	var must []string
	if checked {
		must, err = s.mandatory(work)
		if err != nil {
			return nil, err
		}
	}

	remaining, err := Rebase(work, usns)
	if err != nil {
		return nil, err
	}

	var c Collector
	for _, usn := range remaining {
		// Every remaining USN was found on a record, so each yields a unit
		// even when only identity or uSNChanged records carried it.
		unit, err := extractEvent(work, usn, must)
		if err != nil {
			return nil, err
		}
		c.Insert(unit)
	}

	if checked {
		for _, name := range must {
			if !work.Entry.Has(name) {
				return nil, &SplitError{
					Code:    ErrCodeMissingMandatory,
					Message: "mandatory attribute has no value in any unit",
					DN:      work.Entry.DN,
					USN:     work.USN,
					Attr:    name,
				}
			}
		}
	}

	*combined = *work
	c.Insert(combined)

	s.logger.Debug("split combined update",
		"dn", combined.Entry.DN,
		"partner", combined.Partner,
		"units", c.Len(),
		"base_usn", combined.USN)

	return &Result{
		Units:   c.Units(),
		BaseUSN: combined.USN,
		USNs:    usns,
	}, nil
}

// tombstone reports whether u names a deleted object, either by its DN or by
// isDeleted=TRUE.
func (s *Splitter) tombstone(u *ir.Update) bool {
	return isDeleted(u.Entry) || ir.IsTombstoneDN(u.Entry.DN, s.deletedObjectsDN)
}

// mandatory resolves the mandatory attributes of an Add from the object
// classes it was received with, before any attribute moves out of it.
func (s *Splitter) mandatory(u *ir.Update) ([]string, error) {
	oc, ok := u.Entry.Get(ir.AttrObjectClass)
	if !ok || len(oc.Values) == 0 {
		return nil, &SplitError{
			Code:    ErrCodeMissingObjectClass,
			Message: "add carries no objectClass",
			DN:      u.Entry.DN,
			Attr:    ir.AttrObjectClass,
		}
	}
	must, err := s.schema.MustAttributes(oc.Values)
	if err != nil {
		return nil, &SplitError{
			Code:    ErrCodeSchema,
			Message: "resolve mandatory attributes",
			DN:      u.Entry.DN,
			Err:     err,
		}
	}
	return must, nil
}
