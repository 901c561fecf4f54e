package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/roach88/dirrepl/internal/ir"
)

// Applier dispatches units to a Backend.
type Applier struct {
	backend          Backend
	deletedObjectsDN string
	logger           *slog.Logger
}

// ApplierOption configures an Applier.
type ApplierOption func(*Applier)

// WithDeletedObjectsDN sets the deleted-objects container. When empty, any
// parent whose RDN is "cn=Deleted Objects" is treated as the container.
func WithDeletedObjectsDN(dn string) ApplierOption {
	return func(a *Applier) {
		a.deletedObjectsDN = dn
	}
}

// WithApplierLogger sets the logger. Defaults to slog.Default().
func WithApplierLogger(logger *slog.Logger) ApplierOption {
	return func(a *Applier) {
		a.logger = logger
	}
}

// NewApplier creates an Applier over backend.
func NewApplier(backend Backend, opts ...ApplierOption) *Applier {
	a := &Applier{
		backend: backend,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Result describes how a unit was applied.
type Result struct {
	// Op is the operation actually dispatched.
	Op ir.SyncState

	// Reclassified is set when Op differs from the unit's sync state.
	Reclassified bool

	// Missing is set when a Delete found nothing to delete. The unit is
	// considered applied.
	Missing bool
}

// Apply dispatches u with a single backend call. u is not modified.
func (a *Applier) Apply(ctx context.Context, u *ir.Update) (*Result, error) {
	if !u.SyncState.Valid() {
		return nil, &DispatchError{
			Code:    ErrCodeUnknownSyncState,
			Message: fmt.Sprintf("cannot dispatch sync state %d", int(u.SyncState)),
			DN:      u.Entry.DN,
			USN:     u.USN,
		}
	}

	op, err := a.classify(ctx, u)
	if err != nil {
		return nil, err
	}
	res := &Result{Op: op, Reclassified: op != u.SyncState}
	if res.Reclassified {
		a.logger.Info("reclassified unit",
			"dn", u.Entry.DN,
			"usn", u.USN,
			"from", u.SyncState.String(),
			"to", op.String())
	}

	switch op {
	case ir.SyncStateAdd:
		err = a.backend.AddEntry(ctx, u.Entry.Clone(),
			append([]ir.AttributeMetadata(nil), u.Metadata...),
			append([]ir.ValueMetadata(nil), u.ValueMetadata...))
	case ir.SyncStateModify:
		err = a.backend.ModifyEntry(ctx, TargetOf(u, a.deletedObjectsDN), Modifications(u))
	case ir.SyncStateDelete:
		err = a.backend.DeleteEntry(ctx, TargetOf(u, a.deletedObjectsDN))
		if errors.Is(err, ErrNoSuchEntry) {
			a.logger.Warn("delete target not found, treating as applied",
				"dn", u.Entry.DN,
				"usn", u.USN)
			res.Missing = true
			err = nil
		}
	}
	if err != nil {
		return nil, a.wrap(u, op, err)
	}

	a.logger.Debug("applied unit",
		"dn", u.Entry.DN,
		"usn", u.USN,
		"op", op.String(),
		"partner", u.Partner)
	return res, nil
}

// classify decides the operation to dispatch.
func (a *Applier) classify(ctx context.Context, u *ir.Update) (ir.SyncState, error) {
	switch u.SyncState {
	case ir.SyncStateModify:
		if marksDeleted(u) {
			return ir.SyncStateDelete, nil
		}
	case ir.SyncStateAdd:
		if !ir.IsTombstoneDN(u.Entry.DN, a.deletedObjectsDN) {
			break
		}
		_, guid, ok := ir.TombstoneIdentity(u.Entry.DN)
		if !ok {
			break
		}
		matches, err := a.backend.FindByIdentityMarker(ctx, guid)
		if err != nil {
			return 0, a.wrap(u, u.SyncState, fmt.Errorf("find by identity marker %s: %w", guid, err))
		}
		switch len(matches) {
		case 0:
			// The live object was never held here; the placeholder is created.
		case 1:
			return ir.SyncStateDelete, nil
		default:
			dns := make([]string, len(matches))
			for i, m := range matches {
				dns[i] = m.DN
			}
			return 0, &DispatchError{
				Code:    ErrCodeAmbiguousTombstone,
				Message: fmt.Sprintf("objectGUID %s matches %d live entries %v", guid, len(matches), dns),
				DN:      u.Entry.DN,
				USN:     u.USN,
			}
		}
	}
	return u.SyncState, nil
}

func (a *Applier) wrap(u *ir.Update, op ir.SyncState, err error) error {
	var de *DispatchError
	if errors.As(err, &de) {
		return err
	}
	return &DispatchError{
		Code:    ErrCodeBackend,
		Message: op.String() + " failed",
		DN:      u.Entry.DN,
		USN:     u.USN,
		Err:     err,
	}
}
