package cli

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/roach88/dirrepl/internal/engine"
	"github.com/roach88/dirrepl/internal/ir"
	"github.com/roach88/dirrepl/internal/split"
)

// SplitOptions holds flags for the split command.
type SplitOptions struct {
	*RootOptions
	overrides
}

// SplitMessageResult is the split of one message.
type SplitMessageResult struct {
	Index   int         `json:"index"`
	Partner string      `json:"partner,omitempty"`
	DN      string      `json:"dn"`
	BaseUSN int64       `json:"base_usn,omitempty"`
	Units   []SplitUnit `json:"units,omitempty"`
	Error   *CLIError   `json:"error,omitempty"`
}

// SplitUnit summarizes one unit of a split.
type SplitUnit struct {
	USN        int64      `json:"usn"`
	Op         string     `json:"op"`
	DN         string     `json:"dn"`
	Attributes []string   `json:"attributes,omitempty"`
	Update     *ir.Update `json:"update,omitempty"`
}

// NewSplitCommand creates the split command.
func NewSplitCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &SplitOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "split <messages.yaml>",
		Short: "Show how combined updates split into units",
		Long: `Split every message in a YAML message file and print the resulting
units in replay order. Nothing is written to a database.

With --verbose the full update of each unit is included.

Exit codes:
  0 - Every message split
  1 - At least one message could not be split
  2 - Command error (unreadable file, bad schema, etc.)

Examples:
  dirrepl split messages.yaml
  dirrepl split --schema classes.cue messages.yaml
  dirrepl split --format json messages.yaml`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSplit(opts, cmd, args[0])
		},
	}
	opts.bindSchema(cmd)

	return cmd
}

func runSplit(opts *SplitOptions, cmd *cobra.Command, path string) error {
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

	msgs, err := engine.LoadMessages(path)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to load messages", err)
	}

	splitter := split.New(reg,
		split.WithDeletedObjectsDN(cfg.DeletedObjectsDN),
		split.WithLogger(logger))
	results := make([]SplitMessageResult, 0, len(msgs))
	failed := 0
	for i, msg := range msgs {
		res := splitMessage(splitter, i, msg, opts.Verbose)
		if res.Error != nil {
			failed++
		}
		results = append(results, res)
	}

	if opts.Format == "json" {
		resp := CLIResponse{Status: "ok", Data: results}
		if failed > 0 {
			resp.Status = "error"
			resp.Error = &CLIError{
				Code:    string(engine.ErrCodeSplitFailed),
				Message: fmt.Sprintf("%d message(s) could not be split", failed),
			}
		}
		if err := writeJSON(cmd.OutOrStdout(), resp); err != nil {
			return err
		}
	} else {
		outputSplitText(cmd.OutOrStdout(), results, opts.Verbose)
	}

	if failed > 0 {
		return NewExitError(ExitFailure, fmt.Sprintf("%d message(s) could not be split", failed))
	}
	return nil
}

// splitMessage splits a copy of msg's update; the loaded message is kept
// as received.
func splitMessage(splitter *split.Splitter, index int, msg engine.Message, full bool) SplitMessageResult {
	u := msg.Update.Clone()
	res := SplitMessageResult{
		Index:   index,
		Partner: msg.Partner,
		DN:      u.Entry.DN,
	}
	if res.Partner == "" {
		res.Partner = u.Partner
	}

	out, err := splitter.Split(u)
	if err != nil {
		code := string(split.ErrorCodeOf(err))
		if code == "" {
			code = string(engine.ErrCodeSplitFailed)
		}
		res.Error = &CLIError{Code: code, Message: err.Error()}
		return res
	}

	res.BaseUSN = out.BaseUSN
	for _, unit := range out.Units {
		su := SplitUnit{
			USN: unit.USN,
			Op:  unit.SyncState.String(),
			DN:  unit.Entry.DN,
		}
		for _, a := range unit.Entry.Attrs {
			su.Attributes = append(su.Attributes, a.Name)
		}
		if full {
			su.Update = unit
		}
		res.Units = append(res.Units, su)
	}
	return res
}

func outputSplitText(w io.Writer, results []SplitMessageResult, verbose bool) {
	for _, res := range results {
		if res.Error != nil {
			fmt.Fprintf(w, "✗ message %d %s\n", res.Index, res.DN)
			fmt.Fprintf(w, "  %s\n", res.Error.Message)
			continue
		}
		fmt.Fprintf(w, "✓ message %d %s: %d unit(s), base usn %d\n",
			res.Index, res.DN, len(res.Units), res.BaseUSN)
		for _, u := range res.Units {
			fmt.Fprintf(w, "  usn=%d %-6s %s %v\n", u.USN, u.Op, u.DN, u.Attributes)
			if verbose && u.Update != nil {
				for _, m := range u.Update.Metadata {
					fmt.Fprintf(w, "      meta %s\n", m.String())
				}
				for _, vm := range u.Update.ValueMetadata {
					fmt.Fprintf(w, "      value %s\n", vm.String())
				}
			}
		}
	}
}
