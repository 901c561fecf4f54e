package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/roach88/dirrepl/internal/dispatch"
	"github.com/roach88/dirrepl/internal/engine"
	"github.com/roach88/dirrepl/internal/split"
)

// ApplyOptions holds flags for the apply command.
type ApplyOptions struct {
	*RootOptions
	overrides
	Metrics bool
}

// ApplyMessageResult is the outcome of one message.
type ApplyMessageResult struct {
	File    string          `json:"file"`
	Index   int             `json:"index"`
	Outcome *engine.Outcome `json:"outcome,omitempty"`
	Error   *CLIError       `json:"error,omitempty"`
}

// ApplyResult is the outcome of an apply run.
type ApplyResult struct {
	Messages []ApplyMessageResult `json:"messages"`
	Applied  int                  `json:"units_applied"`
	Skipped  int                  `json:"units_skipped"`
	Stale    int                  `json:"stale_messages"`
	Metrics  []MetricSample       `json:"metrics,omitempty"`
}

// MetricSample is one collected counter value.
type MetricSample struct {
	Name   string            `json:"name"`
	Labels map[string]string `json:"labels,omitempty"`
	Value  float64           `json:"value"`
}

// NewApplyCommand creates the apply command.
func NewApplyCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ApplyOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "apply <messages.yaml>...",
		Short: "Replay partner messages into the directory store",
		Long: `Split each message and apply its units to the SQLite directory store in
ascending USN order. Files are processed in the order given, messages in
file order.

Units already recorded for the partner are skipped, so a file can be
applied again safely. Processing stops at the first failed message; the
partner cursor stays where it was and the message can be resent.

Exit codes:
  0 - Every message applied (or skipped as stale)
  1 - A message failed to split or apply
  2 - Command error (database cannot be opened, unreadable file, etc.)

Examples:
  dirrepl apply --db ./dirrepl.db messages.yaml
  dirrepl apply --db ./dirrepl.db --schema classes.yaml batch1.yaml batch2.yaml
  dirrepl apply --max-retries 10 --retry-interval 50ms messages.yaml
  dirrepl apply --format json --metrics messages.yaml`,
		Args:          cobra.MinimumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runApply(opts, cmd, args)
		},
	}

	opts.bindStore(cmd)
	opts.bindSchema(cmd)
	opts.bindApply(cmd)
	cmd.Flags().BoolVar(&opts.Metrics, "metrics", false, "report engine counters after the run")

	return cmd
}

func runApply(opts *ApplyOptions, cmd *cobra.Command, files []string) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	cfg, logger, err := opts.setup(cmd)
	if err != nil {
		return err
	}
	if cfg, err = opts.apply(cmd, cfg); err != nil {
		return err
	}
	reg, err := loadSchema(cfg)
	if err != nil {
		return err
	}

	// Load everything before touching the database.
	type fileMessages struct {
		path string
		msgs []engine.Message
	}
	var batches []fileMessages
	for _, f := range files {
		msgs, err := engine.LoadMessages(f)
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to load messages", err)
		}
		batches = append(batches, fileMessages{path: f, msgs: msgs})
	}

	st, err := openStore(cfg, logger)
	if err != nil {
		return err
	}
	defer st.Close()

	registry := prometheus.NewRegistry()
	eng := engine.New(st,
		engine.WithSchema(reg),
		engine.WithDeletedObjectsDN(cfg.DeletedObjectsDN),
		engine.WithRetry(cfg.MaxRetries, cfg.RetryInterval),
		engine.WithRegisterer(registry),
		engine.WithLogger(logger))

	result := ApplyResult{Messages: []ApplyMessageResult{}}
	var failure *CLIError

process:
	for _, b := range batches {
		for i, msg := range b.msgs {
			out, err := eng.ProcessMessage(ctx, msg)
			mr := ApplyMessageResult{File: b.path, Index: i, Outcome: out}
			if out != nil {
				tally(&result, out)
			}
			if err != nil {
				failure = messageFailure(err)
				mr.Error = failure
				result.Messages = append(result.Messages, mr)
				logger.Warn("message failed, stopping", slog.String("file", b.path),
					slog.Int("index", i), slog.String("code", failure.Code))
				break process
			}
			result.Messages = append(result.Messages, mr)
		}
	}

	if opts.Metrics {
		result.Metrics, err = gatherCounters(registry)
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to gather metrics", err)
		}
	}

	if opts.Format == "json" {
		resp := CLIResponse{Status: "ok", Data: result}
		if failure != nil {
			resp.Status = "error"
			resp.Error = failure
		}
		if err := writeJSON(cmd.OutOrStdout(), resp); err != nil {
			return err
		}
	} else {
		outputApplyText(cmd.OutOrStdout(), result)
	}

	if failure != nil {
		return NewExitError(ExitFailure, failure.Message)
	}
	return nil
}

func tally(r *ApplyResult, out *engine.Outcome) {
	if out.Stale {
		r.Stale++
		return
	}
	for _, u := range out.Units {
		switch {
		case u.Duplicate:
			r.Skipped++
		case u.Applied != 0:
			r.Applied++
		}
	}
}

// messageFailure maps an engine error to its most specific code: the split
// or dispatch cause when there is one, the message code otherwise.
func messageFailure(err error) *CLIError {
	code := "MESSAGE_FAILED"
	var me *engine.MessageError
	if errors.As(err, &me) {
		code = string(me.Code)
	}
	if c := split.ErrorCodeOf(err); c != "" {
		code = string(c)
	} else if c := dispatch.ErrorCodeOf(err); c != "" {
		code = string(c)
	}
	return &CLIError{Code: code, Message: err.Error()}
}

// gatherCounters flattens the counters in reg, sorted by name and labels.
func gatherCounters(reg *prometheus.Registry) ([]MetricSample, error) {
	families, err := reg.Gather()
	if err != nil {
		return nil, err
	}

	var samples []MetricSample
	for _, mf := range families {
		for _, m := range mf.GetMetric() {
			if m.GetCounter() == nil {
				continue
			}
			s := MetricSample{Name: mf.GetName(), Value: m.GetCounter().GetValue()}
			for _, lp := range m.GetLabel() {
				if s.Labels == nil {
					s.Labels = make(map[string]string)
				}
				s.Labels[lp.GetName()] = lp.GetValue()
			}
			samples = append(samples, s)
		}
	}
	sort.SliceStable(samples, func(i, j int) bool {
		return samples[i].Name < samples[j].Name
	})
	return samples, nil
}

func outputApplyText(w io.Writer, r ApplyResult) {
	for _, mr := range r.Messages {
		out := mr.Outcome
		switch {
		case mr.Error != nil:
			fmt.Fprintf(w, "✗ %s[%d] %s\n", mr.File, mr.Index, mr.Error.Code)
			fmt.Fprintf(w, "  %s\n", mr.Error.Message)
		case out.Stale:
			fmt.Fprintf(w, "- %s[%d] %s %s: stale, cursor %d\n", mr.File, mr.Index, out.Partner, out.DN, out.Cursor)
			continue
		default:
			fmt.Fprintf(w, "✓ %s[%d] %s %s: cursor %d\n", mr.File, mr.Index, out.Partner, out.DN, out.Cursor)
		}
		if out == nil {
			continue
		}
		for _, u := range out.Units {
			fmt.Fprintf(w, "  usn=%d %s\n", u.USN, describeUnit(u))
		}
	}

	fmt.Fprintln(w)
	fmt.Fprintf(w, "Apply Summary: %d unit(s) applied, %d skipped, %d stale message(s)\n",
		r.Applied, r.Skipped, r.Stale)

	for _, s := range r.Metrics {
		fmt.Fprintf(w, "  %s%s %g\n", s.Name, formatLabels(s.Labels), s.Value)
	}
}

func describeUnit(u engine.UnitOutcome) string {
	switch {
	case u.Duplicate:
		return fmt.Sprintf("%s %s (already applied)", u.Received, u.DN)
	case u.Applied == 0:
		return fmt.Sprintf("%s %s (failed)", u.Received, u.DN)
	case u.Reclassified:
		return fmt.Sprintf("%s %s (received as %s)", u.Applied, u.DN, u.Received)
	case u.Missing:
		return fmt.Sprintf("%s %s (entry already gone)", u.Applied, u.DN)
	default:
		return fmt.Sprintf("%s %s", u.Applied, u.DN)
	}
}

func formatLabels(labels map[string]string) string {
	if len(labels) == 0 {
		return ""
	}
	keys := make([]string, 0, len(labels))
	for k := range labels {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = fmt.Sprintf("%s=%q", k, labels[k])
	}
	return "{" + strings.Join(parts, ",") + "}"
}
