package harness

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"slices"

	"github.com/roach88/dirrepl/internal/dispatch"
	"github.com/roach88/dirrepl/internal/engine"
	"github.com/roach88/dirrepl/internal/ir"
	"github.com/roach88/dirrepl/internal/schema"
	"github.com/roach88/dirrepl/internal/split"
	"github.com/roach88/dirrepl/internal/store"
	"github.com/roach88/dirrepl/internal/testutil"
)

// Harness runs one scenario through the replication engine.
type Harness struct {
	store  *store.Store
	engine *engine.Engine
	clock  *testutil.DeterministicClock
	logger *slog.Logger
}

// Run executes a test scenario and returns the result.
//
// Each scenario runs in a fresh in-memory database for isolation. Batch IDs,
// ledger sequence numbers and trace sequence numbers are deterministic, so
// the trace of a scenario is reproducible.
//
// Execution flow:
// 1. Create fresh in-memory database
// 2. Load the object-class schema
// 3. Write setup entries
// 4. Deliver each flow message and check its expect clause
// 5. Evaluate assertions against the trace and final state
func Run(scenario *Scenario) (*Result, error) {
	ctx := context.Background()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	sch := schema.Schema(schema.Default())
	if scenario.Schema != "" {
		reg, err := schema.LoadFile(scenario.Schema)
		if err != nil {
			return nil, fmt.Errorf("failed to load schema: %w", err)
		}
		sch = reg
	}

	st, err := store.Open(":memory:",
		store.WithDeletedObjectsDN(scenario.DeletedObjectsDN),
		store.WithLogger(logger))
	if err != nil {
		return nil, fmt.Errorf("failed to create in-memory store: %w", err)
	}
	defer st.Close()

	eng := engine.New(st,
		engine.WithSchema(sch),
		engine.WithClock(testutil.NewDeterministicClock()),
		engine.WithBatchIDGenerator(engine.NewSequentialGenerator("batch")),
		engine.WithLogger(logger),
	)

	h := &Harness{
		store:  st,
		engine: eng,
		clock:  testutil.NewDeterministicClock(),
		logger: logger,
	}

	result := NewResult()
	if err := h.executeSetup(ctx, scenario.Setup); err != nil {
		return nil, fmt.Errorf("failed to execute setup: %w", err)
	}

	h.executeFlow(ctx, scenario.Flow, result)

	actx := &AssertionContext{
		Store: st,
		Ctx:   ctx,
	}
	for _, errMsg := range EvaluateAssertions(result, scenario.Assertions, actx) {
		result.AddError(errMsg)
	}

	return result, nil
}

// executeSetup writes the setup entries directly to the store.
func (h *Harness) executeSetup(ctx context.Context, setup []ir.Entry) error {
	for i, e := range setup {
		if err := h.store.SeedEntry(ctx, e, nil); err != nil {
			return fmt.Errorf("setup entry %d (%s): %w", i, e.DN, err)
		}
		h.logger.Info("setup entry written", "step", i, "dn", e.DN)
	}
	return nil
}

// executeFlow delivers each message in order, records the trace and checks
// expect clauses. A failing message does not stop the flow; later messages
// may be the partner's resend.
func (h *Harness) executeFlow(ctx context.Context, flow []FlowStep, result *Result) {
	for i, step := range flow {
		out, err := h.engine.ProcessMessage(ctx, step.Message)

		msgEvent := TraceEvent{
			Type: EventMessage,
			Seq:  h.clock.Next(),
		}
		if out != nil {
			msgEvent.Partner = out.Partner
			msgEvent.DN = out.DN
			msgEvent.BatchID = out.BatchID
			msgEvent.Cursor = out.Cursor
			msgEvent.Stale = out.Stale
		} else {
			msgEvent.Partner = step.Partner
			if msgEvent.Partner == "" {
				msgEvent.Partner = step.Update.Partner
			}
			msgEvent.DN = step.Update.Entry.DN
		}
		if err != nil {
			msgEvent.Error, msgEvent.Cause = errorCodes(err)
		}
		result.Trace = append(result.Trace, msgEvent)

		var units []engine.UnitOutcome
		if out != nil {
			units = out.Units
		}
		for _, u := range units {
			result.Trace = append(result.Trace, unitEvent(msgEvent.Partner, u, h.clock.Next()))
		}

		for _, msg := range checkExpect(i, step.Expect, msgEvent, units, err) {
			result.AddError(msg)
		}

		h.logger.Info("flow step completed",
			"step", i,
			"dn", msgEvent.DN,
			"units", len(units),
			"error", msgEvent.Error)
	}
}

func unitEvent(partner string, u engine.UnitOutcome, seq int64) TraceEvent {
	ev := TraceEvent{
		Type:         EventUnit,
		Partner:      partner,
		DN:           u.DN,
		Seq:          seq,
		USN:          u.USN,
		Received:     u.Received.String(),
		Reclassified: u.Reclassified,
		Duplicate:    u.Duplicate,
		Missing:      u.Missing,
	}
	if u.Applied.Valid() {
		ev.Op = u.Applied.String()
	}
	return ev
}

// unitOp is the operation a unit event reports for expect clauses.
func unitOp(u engine.UnitOutcome) string {
	switch {
	case u.Duplicate:
		return "duplicate"
	case u.Applied.Valid():
		return u.Applied.String()
	default:
		return "failed"
	}
}

// checkExpect compares one message's outcome with its expect clause.
func checkExpect(step int, expect *ExpectClause, ev TraceEvent, units []engine.UnitOutcome, err error) []string {
	var errs []string
	if expect == nil {
		expect = &ExpectClause{}
	}

	switch {
	case expect.Error == "" && err != nil:
		errs = append(errs, fmt.Sprintf("flow[%d]: unexpected error: %v", step, err))
	case expect.Error != "" && err == nil:
		errs = append(errs, fmt.Sprintf("flow[%d]: expected error %s, message succeeded", step, expect.Error))
	case expect.Error != "" && expect.Error != ev.Error && expect.Error != ev.Cause:
		errs = append(errs, fmt.Sprintf("flow[%d]: expected error %s, got %s (%s)", step, expect.Error, ev.Error, ev.Cause))
	}

	if expect.Stale != ev.Stale {
		errs = append(errs, fmt.Sprintf("flow[%d]: expected stale=%t, got %t", step, expect.Stale, ev.Stale))
	}

	if len(expect.USNs) > 0 {
		got := make([]int64, len(units))
		for i, u := range units {
			got[i] = u.USN
		}
		if !slices.Equal(got, expect.USNs) {
			errs = append(errs, fmt.Sprintf("flow[%d]: expected unit order %v, got %v", step, expect.USNs, got))
		}
	}

	if len(expect.Ops) > 0 {
		got := make([]string, len(units))
		for i, u := range units {
			got[i] = unitOp(u)
		}
		if !slices.Equal(got, expect.Ops) {
			errs = append(errs, fmt.Sprintf("flow[%d]: expected ops %v, got %v", step, expect.Ops, got))
		}
	}
	return errs
}

// errorCodes returns the message error code and the code of the split or
// dispatch error underneath it.
func errorCodes(err error) (code, cause string) {
	var me *engine.MessageError
	if errors.As(err, &me) {
		code = string(me.Code)
	}
	var se *split.SplitError
	if errors.As(err, &se) {
		cause = string(se.Code)
	}
	if dc := dispatch.ErrorCodeOf(err); dc != "" {
		cause = string(dc)
	}
	if code == "" {
		code = "ERROR"
	}
	return code, cause
}
