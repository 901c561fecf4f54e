package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"

	"github.com/roach88/dirrepl/internal/dispatch"
	"github.com/roach88/dirrepl/internal/ir"
	"github.com/roach88/dirrepl/internal/schema"
	"github.com/roach88/dirrepl/internal/split"
	"github.com/roach88/dirrepl/internal/store"
)

// Engine applies replication messages to the local store.
//
// Each message is split into units, the units are applied in ascending USN
// order, every applied unit is recorded in the ledger, and the partner cursor
// advances only once all units are in.
//
// Thread-safety model:
//   - ProcessMessage(): safe to call for different partners concurrently;
//     calls for one partner must not overlap
//   - Enqueue(): safe from any goroutine
//   - Run(): runs one sequential worker per partner, partners in parallel
type Engine struct {
	store    *store.Store
	backend  dispatch.Backend
	splitter *split.Splitter
	applier  *dispatch.Applier
	clock    SeqSource
	batchGen BatchIDGenerator
	metrics  *Metrics
	logger   *slog.Logger

	schema           schema.Schema
	deletedObjectsDN string
	maxTries         uint
	retryInterval    time.Duration
	registerer       prometheus.Registerer

	mu      sync.Mutex
	queues  map[string]*messageQueue
	group   *errgroup.Group
	gctx    context.Context
	running bool
	stopped bool
	stopCh  chan struct{}
}

// EngineOption allows configuration of engine parameters.
type EngineOption func(*Engine)

// WithSchema sets the schema used to resolve mandatory attributes.
// Default: schema.Default().
func WithSchema(s schema.Schema) EngineOption {
	return func(e *Engine) {
		e.schema = s
	}
}

// WithBackend replaces the store as the dispatch target. The store still
// holds the ledger and cursors.
func WithBackend(b dispatch.Backend) EngineOption {
	return func(e *Engine) {
		e.backend = b
	}
}

// WithDeletedObjectsDN sets the deleted-objects container used for tombstone
// reclassification. Default: the store's container.
func WithDeletedObjectsDN(dn string) EngineOption {
	return func(e *Engine) {
		e.deletedObjectsDN = dn
	}
}

// WithRetry sets the retry budget for retryable backend failures.
func WithRetry(maxTries uint, interval time.Duration) EngineOption {
	return func(e *Engine) {
		e.maxTries = maxTries
		e.retryInterval = interval
	}
}

// WithClock sets the sequence source for ledger rows.
func WithClock(c SeqSource) EngineOption {
	return func(e *Engine) {
		e.clock = c
	}
}

// WithBatchIDGenerator sets the batch ID generator. Default: UUIDv7Generator.
func WithBatchIDGenerator(g BatchIDGenerator) EngineOption {
	return func(e *Engine) {
		e.batchGen = g
	}
}

// WithRegisterer registers the engine's metrics with reg.
func WithRegisterer(reg prometheus.Registerer) EngineOption {
	return func(e *Engine) {
		e.registerer = reg
	}
}

// WithLogger sets the logger. Default: slog.Default().
func WithLogger(logger *slog.Logger) EngineOption {
	return func(e *Engine) {
		e.logger = logger
	}
}

// New creates an Engine over s.
func New(s *store.Store, opts ...EngineOption) *Engine {
	e := &Engine{
		store:         s,
		clock:         NewClock(),
		batchGen:      UUIDv7Generator{},
		logger:        slog.Default(),
		schema:        schema.Default(),
		maxTries:      dispatch.DefaultMaxTries,
		retryInterval: dispatch.DefaultRetryInterval,
		queues:        make(map[string]*messageQueue),
		stopCh:        make(chan struct{}),
	}
	for _, opt := range opts {
		opt(e)
	}

	if e.deletedObjectsDN == "" {
		e.deletedObjectsDN = s.DeletedObjectsDN()
	}
	if e.backend == nil {
		e.backend = s
	}
	e.metrics = NewMetrics(e.registerer)

	retrying := dispatch.NewRetryBackend(e.backend,
		dispatch.WithMaxTries(e.maxTries),
		dispatch.WithRetryInterval(e.retryInterval),
		dispatch.WithRetryLogger(e.logger),
		dispatch.WithRetryHook(func(op string, _ error) {
			e.metrics.Retries.WithLabelValues(op).Inc()
		}))
	e.splitter = split.New(e.schema,
		split.WithDeletedObjectsDN(e.deletedObjectsDN),
		split.WithLogger(e.logger))
	e.applier = dispatch.NewApplier(retrying,
		dispatch.WithDeletedObjectsDN(e.deletedObjectsDN),
		dispatch.WithApplierLogger(e.logger))
	return e
}

// Metrics returns the engine's collectors.
func (e *Engine) Metrics() *Metrics {
	return e.metrics
}

// Outcome describes how a message was processed.
type Outcome struct {
	Partner string `json:"partner"`
	BatchID string `json:"batch_id"`
	DN      string `json:"dn"`

	// Stale is set when the message's cursor did not pass the stored cursor
	// and nothing was applied.
	Stale bool `json:"stale,omitempty"`

	// Units lists every unit in replay order, including ones already in the
	// ledger. On failure it stops at the failing unit.
	Units []UnitOutcome `json:"units"`

	// Cursor is the partner cursor after the message.
	Cursor int64 `json:"cursor"`
}

// UnitOutcome describes one unit.
type UnitOutcome struct {
	UnitID       string       `json:"unit_id"`
	DN           string       `json:"dn"`
	USN          int64        `json:"usn"`
	Received     ir.SyncState `json:"received"`
	Applied      ir.SyncState `json:"applied,omitempty"`
	Reclassified bool         `json:"reclassified,omitempty"`
	Duplicate    bool         `json:"duplicate,omitempty"`
	Missing      bool         `json:"missing,omitempty"`
}

// ProcessMessage splits msg and applies its units in ascending USN order.
//
// Units already in the ledger for the partner are skipped. The first unit
// that fails aborts the rest; units before it stay applied and recorded. The
// cursor advances to max(msg.Cursor, highest unit USN) only after every unit
// is applied. A message whose cursor does not pass the stored cursor is
// reported as stale and not applied.
func (e *Engine) ProcessMessage(ctx context.Context, msg Message) (*Outcome, error) {
	partner := msg.partner()
	if msg.Update == nil || partner == "" {
		e.metrics.Messages.WithLabelValues("invalid").Inc()
		return nil, &MessageError{
			Code:    ErrCodeInvalidMessage,
			Message: "message needs an update and a partner",
			Partner: partner,
			Unit:    -1,
		}
	}

	out := &Outcome{
		Partner: partner,
		BatchID: e.batchGen.Generate(),
		DN:      msg.Update.Entry.DN,
	}
	logger := e.logger.With("partner", partner, "batch", out.BatchID)
	logger.Debug("message received", "dn", out.DN, "cursor", msg.Cursor)

	stored, ok, err := e.store.Cursor(ctx, partner)
	if err != nil {
		return nil, e.fail(out, ErrCodeLedgerFailed, "read cursor", -1, err)
	}
	out.Cursor = stored
	if ok && msg.Cursor > 0 && msg.Cursor <= stored {
		out.Stale = true
		e.metrics.Messages.WithLabelValues("stale").Inc()
		logger.Info("message skipped: stale cursor",
			"cursor", msg.Cursor,
			"stored", stored)
		return out, nil
	}

	combined := msg.Update.Clone()
	combined.Partner = partner
	res, err := e.splitter.Split(combined)
	if err != nil {
		return nil, e.fail(out, ErrCodeSplitFailed, "split combined update", -1, err)
	}
	e.metrics.SplitUnits.Observe(float64(len(res.Units)))
	logger.Debug("split result", "units", len(res.Units), "base_usn", res.BaseUSN)

	for i, unit := range res.Units {
		id, err := ir.UnitID(unit)
		if err != nil {
			return out, e.fail(out, ErrCodeApplyFailed, "compute unit id", i, err)
		}
		uo := UnitOutcome{
			UnitID:   id,
			DN:       unit.Entry.DN,
			USN:      unit.USN,
			Received: unit.SyncState,
		}

		done, err := e.store.IsUnitApplied(ctx, partner, id)
		if err != nil {
			return out, e.fail(out, ErrCodeLedgerFailed, "check ledger", i, err)
		}
		if done {
			uo.Duplicate = true
			out.Units = append(out.Units, uo)
			e.metrics.Duplicates.Inc()
			logger.Debug("unit already applied", "usn", unit.USN, "unit", id)
			continue
		}

		r, err := e.applier.Apply(ctx, unit)
		if err != nil {
			out.Units = append(out.Units, uo)
			return out, e.fail(out, ErrCodeApplyFailed, "apply unit", i, err)
		}
		uo.Applied = r.Op
		uo.Reclassified = r.Reclassified
		uo.Missing = r.Missing
		out.Units = append(out.Units, uo)

		if _, err := e.store.MarkUnitApplied(ctx, store.AppliedUnit{
			Partner: partner,
			UnitID:  id,
			DN:      unit.Entry.DN,
			USN:     unit.USN,
			Op:      r.Op.String(),
			BatchID: out.BatchID,
			Seq:     e.clock.Next(),
		}); err != nil {
			return out, e.fail(out, ErrCodeLedgerFailed, "record unit", i, err)
		}

		e.metrics.Units.WithLabelValues(r.Op.String()).Inc()
		if r.Reclassified {
			e.metrics.Reclassified.Inc()
		}
		logger.Debug("unit applied",
			"usn", unit.USN,
			"op", r.Op.String(),
			"dn", unit.Entry.DN)
	}

	cursor := msg.Cursor
	if m := res.MaxUSN(); m > cursor {
		cursor = m
	}
	if err := e.store.AdvanceCursor(ctx, partner, cursor, e.clock.Next()); err != nil {
		return out, e.fail(out, ErrCodeLedgerFailed, "advance cursor", -1, err)
	}
	if cursor > out.Cursor {
		out.Cursor = cursor
	}

	e.metrics.Messages.WithLabelValues("applied").Inc()
	logger.Info("cursor advanced", "cursor", out.Cursor, "units", len(out.Units))
	return out, nil
}

func (e *Engine) fail(out *Outcome, code MessageErrorCode, what string, unit int, err error) error {
	e.metrics.Messages.WithLabelValues("failed").Inc()
	me := &MessageError{
		Code:    code,
		Message: what,
		Partner: out.Partner,
		BatchID: out.BatchID,
		DN:      out.DN,
		Unit:    unit,
		Err:     err,
	}
	e.logger.Error("message discarded",
		"partner", out.Partner,
		"batch", out.BatchID,
		"dn", out.DN,
		"code", string(code),
		"unit", unit,
		"error", err)
	return me
}

// Enqueue submits msg to its partner's queue. Thread-safe.
// Returns false if the engine has been stopped or msg names no partner.
func (e *Engine) Enqueue(msg Message) bool {
	partner := msg.partner()
	if partner == "" {
		return false
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.stopped {
		return false
	}
	q, ok := e.queues[partner]
	if !ok {
		q = newMessageQueue()
		e.queues[partner] = q
		if e.running {
			e.startWorker(partner, q)
		}
	}
	return q.Enqueue(msg)
}

// Run starts one worker per partner and blocks until ctx is cancelled or
// Stop is called. After Stop, workers finish the messages already queued.
//
// A failed message is logged and dropped; the worker moves on to the next
// one. Its units that were applied stay in the ledger and the cursor stays
// put, so a resend completes it.
func (e *Engine) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	e.mu.Lock()
	if e.running {
		e.mu.Unlock()
		return errors.New("engine already running")
	}
	e.running = true
	e.group = g
	e.gctx = gctx
	partners := make([]string, 0, len(e.queues))
	for p := range e.queues {
		partners = append(partners, p)
	}
	sort.Strings(partners)
	for _, p := range partners {
		e.startWorker(p, e.queues[p])
	}
	e.mu.Unlock()

	e.logger.Info("engine starting", "partners", len(partners))

	var runErr error
	select {
	case <-ctx.Done():
		e.logger.Info("engine stopping: context cancelled")
		runErr = ctx.Err()
		e.Stop()
	case <-e.stopCh:
		e.logger.Info("engine stopping: stopped")
	}

	if err := g.Wait(); err != nil && runErr == nil {
		runErr = err
	}
	return runErr
}

// Stop closes every partner queue. Run returns once the workers have drained
// them. Safe to call more than once.
func (e *Engine) Stop() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.stopped {
		return
	}
	e.stopped = true
	for _, q := range e.queues {
		q.Close()
	}
	close(e.stopCh)
}

// startWorker must be called with e.mu held.
func (e *Engine) startWorker(partner string, q *messageQueue) {
	ctx := e.gctx
	e.group.Go(func() error {
		return e.work(ctx, partner, q)
	})
}

func (e *Engine) work(ctx context.Context, partner string, q *messageQueue) error {
	e.logger.Debug("partner worker started", "partner", partner)
	for {
		if msg, ok := q.TryDequeue(); ok {
			// Errors are logged by ProcessMessage.
			_, _ = e.ProcessMessage(ctx, msg)
			continue
		}
		if q.Drained() {
			return nil
		}

		select {
		case <-ctx.Done():
			return nil
		case <-q.Wait():
		}
	}
}

// Cursor returns the stored cursor for partner.
func (e *Engine) Cursor(ctx context.Context, partner string) (int64, error) {
	cur, _, err := e.store.Cursor(ctx, partner)
	if err != nil {
		return 0, fmt.Errorf("engine cursor: %w", err)
	}
	return cur, nil
}
