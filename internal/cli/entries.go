package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/dirrepl/internal/dispatch"
	"github.com/roach88/dirrepl/internal/ir"
	"github.com/roach88/dirrepl/internal/store"
)

// EntriesOptions holds flags for the entries command.
type EntriesOptions struct {
	*RootOptions
	overrides
	DN       string
	Metadata bool
}

// EntryView is one stored entry, optionally with its replication metadata.
type EntryView struct {
	ir.Entry
	Tombstone     bool                   `json:"tombstone,omitempty"`
	Metadata      []ir.AttributeMetadata `json:"metadata,omitempty"`
	ValueMetadata []ir.ValueMetadata     `json:"value_metadata,omitempty"`
}

// NewEntriesCommand creates the entries command.
func NewEntriesCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &EntriesOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "entries",
		Short: "List entries in the directory store",
		Long: `List the entries held in the directory store, live entries and
tombstones alike, ordered by DN.

Exit codes:
  0 - Success
  1 - --dn names no entry
  2 - Command error (database cannot be opened, etc.)

Examples:
  dirrepl entries --db ./dirrepl.db
  dirrepl entries --db ./dirrepl.db --dn "cn=foo,dc=vmware,dc=com" --metadata
  dirrepl entries --format json`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runEntries(opts, cmd)
		},
	}

	opts.bindStore(cmd)
	cmd.Flags().StringVar(&opts.DN, "dn", "", "show a single entry")
	cmd.Flags().BoolVar(&opts.Metadata, "metadata", false, "include attribute and value metadata")

	return cmd
}

func runEntries(opts *EntriesOptions, cmd *cobra.Command) error {
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

	var entries []ir.Entry
	if opts.DN != "" {
		e, err := st.GetEntry(ctx, opts.DN)
		if errors.Is(err, dispatch.ErrNoSuchEntry) {
			return NewExitError(ExitFailure, fmt.Sprintf("no entry at %s", opts.DN))
		}
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to read entry", err)
		}
		entries = []ir.Entry{e}
	} else {
		entries, err = st.ListEntries(ctx)
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to list entries", err)
		}
	}

	views := make([]EntryView, 0, len(entries))
	for _, e := range entries {
		v := EntryView{
			Entry:     e,
			Tombstone: strings.EqualFold(e.First(ir.AttrIsDeleted), "TRUE"),
		}
		if opts.Metadata {
			if v.Metadata, v.ValueMetadata, err = loadMetadata(ctx, st, e.DN); err != nil {
				return WrapExitError(ExitCommandError, "failed to read metadata", err)
			}
		}
		views = append(views, v)
	}

	if opts.Format == "json" {
		return writeJSON(cmd.OutOrStdout(), CLIResponse{Status: "ok", Data: views})
	}
	outputEntriesText(cmd.OutOrStdout(), views)
	return nil
}

func loadMetadata(ctx context.Context, st *store.Store, dn string) ([]ir.AttributeMetadata, []ir.ValueMetadata, error) {
	meta, err := st.AttributeMetadata(ctx, dn)
	if err != nil {
		return nil, nil, err
	}
	vmeta, err := st.ValueMetadata(ctx, dn)
	if err != nil {
		return nil, nil, err
	}
	return meta, vmeta, nil
}

func outputEntriesText(w io.Writer, views []EntryView) {
	if len(views) == 0 {
		fmt.Fprintln(w, "No entries found.")
		return
	}
	for i, v := range views {
		if i > 0 {
			fmt.Fprintln(w)
		}
		if v.Tombstone {
			fmt.Fprintf(w, "dn: %s (tombstone)\n", v.DN)
		} else {
			fmt.Fprintf(w, "dn: %s\n", v.DN)
		}
		for _, a := range v.Attrs {
			for _, val := range a.Values {
				fmt.Fprintf(w, "%s: %s\n", a.Name, val)
			}
		}
		for _, m := range v.Metadata {
			fmt.Fprintf(w, "# meta %s\n", m.String())
		}
		for _, vm := range v.ValueMetadata {
			fmt.Fprintf(w, "# value %s\n", vm.String())
		}
	}
}
