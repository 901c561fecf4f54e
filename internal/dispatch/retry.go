package dispatch

import (
	"context"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/roach88/dirrepl/internal/ir"
)

// Default retry budget for transient backend failures.
const (
	DefaultMaxTries      = 5
	DefaultRetryInterval = 20 * time.Millisecond
)

// RetryBackend repeats calls that fail with a RetryableError, up to a bounded
// number of tries at a constant interval. Any other error is returned at once.
// When the budget runs out the last error is reported as RETRIES_EXHAUSTED.
type RetryBackend struct {
	inner    Backend
	maxTries uint
	interval time.Duration
	logger   *slog.Logger
	onRetry  func(op string, err error)
}

// RetryOption configures a RetryBackend.
type RetryOption func(*RetryBackend)

// WithMaxTries sets the total number of attempts per call.
func WithMaxTries(n uint) RetryOption {
	return func(r *RetryBackend) {
		if n > 0 {
			r.maxTries = n
		}
	}
}

// WithRetryInterval sets the wait between attempts.
func WithRetryInterval(d time.Duration) RetryOption {
	return func(r *RetryBackend) {
		r.interval = d
	}
}

// WithRetryLogger sets the logger. Defaults to slog.Default().
func WithRetryLogger(logger *slog.Logger) RetryOption {
	return func(r *RetryBackend) {
		r.logger = logger
	}
}

// WithRetryHook registers fn to be called before every repeated attempt.
func WithRetryHook(fn func(op string, err error)) RetryOption {
	return func(r *RetryBackend) {
		r.onRetry = fn
	}
}

// NewRetryBackend wraps inner with bounded retries.
func NewRetryBackend(inner Backend, opts ...RetryOption) *RetryBackend {
	r := &RetryBackend{
		inner:    inner,
		maxTries: DefaultMaxTries,
		interval: DefaultRetryInterval,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *RetryBackend) AddEntry(ctx context.Context, entry ir.Entry, meta []ir.AttributeMetadata, valueMeta []ir.ValueMetadata) error {
	return r.do(ctx, "add", entry.DN, func() error {
		return r.inner.AddEntry(ctx, entry, meta, valueMeta)
	})
}

func (r *RetryBackend) ModifyEntry(ctx context.Context, target Identity, mods []Modification) error {
	return r.do(ctx, "modify", target.DN, func() error {
		return r.inner.ModifyEntry(ctx, target, mods)
	})
}

func (r *RetryBackend) DeleteEntry(ctx context.Context, target Identity) error {
	return r.do(ctx, "delete", target.DN, func() error {
		return r.inner.DeleteEntry(ctx, target)
	})
}

func (r *RetryBackend) FindByIdentityMarker(ctx context.Context, guid string) ([]ir.Entry, error) {
	var found []ir.Entry
	err := r.do(ctx, "find", guid, func() error {
		var err error
		found, err = r.inner.FindByIdentityMarker(ctx, guid)
		return err
	})
	return found, err
}

func (r *RetryBackend) do(ctx context.Context, op, dn string, call func() error) error {
	attempts := 0
	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		attempts++
		err := call()
		if err == nil || IsRetryable(err) {
			return struct{}{}, err
		}
		return struct{}{}, backoff.Permanent(err)
	},
		backoff.WithBackOff(backoff.NewConstantBackOff(r.interval)),
		backoff.WithMaxTries(r.maxTries),
		backoff.WithNotify(func(err error, next time.Duration) {
			r.logger.Warn("retrying backend call",
				"op", op,
				"dn", dn,
				"attempt", attempts,
				"next", next,
				"error", err)
			if r.onRetry != nil {
				r.onRetry(op, err)
			}
		}),
	)
	if err != nil && IsRetryable(err) {
		return &DispatchError{
			Code:    ErrCodeRetriesExhausted,
			Message: op + " still failing after retries",
			DN:      dn,
			Err:     err,
		}
	}
	return err
}
