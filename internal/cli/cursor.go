package cli

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/roach88/dirrepl/internal/store"
)

// CursorOptions holds flags for the cursor command.
type CursorOptions struct {
	*RootOptions
	overrides
	Partner string
	Units   bool
}

// CursorView is a partner cursor, optionally with the partner's ledger.
type CursorView struct {
	store.PartnerCursor
	Units []store.AppliedUnit `json:"units,omitempty"`
}

// NewCursorCommand creates the cursor command.
func NewCursorCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &CursorOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "cursor",
		Short: "Show per-partner replication cursors",
		Long: `Show the highest replication position fully applied for each partner.

With --units the applied-unit ledger of each partner is listed too.

Exit codes:
  0 - Success
  1 - --partner names a partner with no cursor
  2 - Command error (database cannot be opened, etc.)

Examples:
  dirrepl cursor --db ./dirrepl.db
  dirrepl cursor --partner ldap://peer-a --units`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCursor(opts, cmd)
		},
	}

	opts.bindStore(cmd)
	cmd.Flags().StringVar(&opts.Partner, "partner", "", "show a single partner")
	cmd.Flags().BoolVar(&opts.Units, "units", false, "list applied units")

	return cmd
}

func runCursor(opts *CursorOptions, cmd *cobra.Command) error {
	ctx := context.Background()

	cfg, logger, err := opts.setup(cmd)
	if err != nil {
		return err
	}
	if cfg, err = opts.apply(cmd, cfg); err != nil {
		return err
	}
	st, err := openStore(cfg, logger)
	if err != nil {
		return err
	}
	defer st.Close()

	cursors, err := st.ListCursors(ctx)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to list cursors", err)
	}

	views := make([]CursorView, 0, len(cursors))
	for _, c := range cursors {
		if opts.Partner != "" && c.Partner != opts.Partner {
			continue
		}
		v := CursorView{PartnerCursor: c}
		if opts.Units {
			if v.Units, err = st.AppliedUnits(ctx, c.Partner); err != nil {
				return WrapExitError(ExitCommandError, "failed to read ledger", err)
			}
		}
		views = append(views, v)
	}

	if opts.Partner != "" && len(views) == 0 {
		return NewExitError(ExitFailure, fmt.Sprintf("no cursor for partner %s", opts.Partner))
	}

	if opts.Format == "json" {
		return writeJSON(cmd.OutOrStdout(), CLIResponse{Status: "ok", Data: views})
	}
	outputCursorText(cmd.OutOrStdout(), views)
	return nil
}

func outputCursorText(w io.Writer, views []CursorView) {
	if len(views) == 0 {
		fmt.Fprintln(w, "No partner cursors.")
		return
	}
	for _, v := range views {
		fmt.Fprintf(w, "%s\t%d\n", v.Partner, v.Cursor)
		for _, u := range v.Units {
			fmt.Fprintf(w, "  usn=%d %-6s %s batch=%s\n", u.USN, u.Op, u.DN, u.BatchID)
		}
	}
}
