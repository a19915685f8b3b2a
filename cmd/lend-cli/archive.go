package main

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/cobra"

	"p2plend/services/archive"
)

const envArchiveDSN = "LEND_ARCHIVE_DSN"

func newArchiveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "archive",
		Short: "Query the lending event archive",
	}
	cmd.AddCommand(newArchiveListCmd(), newArchiveExportCmd())
	return cmd
}

type archiveFlags struct {
	dsn     string
	typ     string
	actor   string
	offerID uint64
	loanID  uint64
	since   time.Duration
	limit   int
}

func (f *archiveFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.dsn, "dsn", envOr(envArchiveDSN, ""), "Archive database DSN (sqlite path or postgres:// URL)")
	cmd.Flags().StringVar(&f.typ, "type", "", "Event type, or a prefix ending in '.'")
	cmd.Flags().StringVar(&f.actor, "actor", "", "Only events whose primary actor is this address")
	cmd.Flags().Uint64Var(&f.offerID, "offer", 0, "Only events for this offer")
	cmd.Flags().Uint64Var(&f.loanID, "loan", 0, "Only events for this loan")
	cmd.Flags().DurationVar(&f.since, "since", 0, "Only events archived within this window")
	cmd.Flags().IntVar(&f.limit, "limit", 0, "Maximum number of events")
}

func (f *archiveFlags) filter() archive.Filter {
	out := archive.Filter{Type: f.typ, Actor: f.actor, Limit: f.limit}
	if f.offerID != 0 {
		id := f.offerID
		out.OfferID = &id
	}
	if f.loanID != 0 {
		id := f.loanID
		out.LoanID = &id
	}
	if f.since > 0 {
		out.Since = time.Now().Add(-f.since)
	}
	return out
}

func (f *archiveFlags) open() (*archive.Store, error) {
	if f.dsn == "" {
		return nil, fmt.Errorf("--dsn or %s required", envArchiveDSN)
	}
	return archive.Open(f.dsn, slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn})))
}

func newArchiveListCmd() *cobra.Command {
	var flags archiveFlags
	cmd := &cobra.Command{
		Use:   "list",
		Short: "Print archived events as JSON lines",
		RunE: func(cmd *cobra.Command, _ []string) error {
			store, err := flags.open()
			if err != nil {
				return err
			}
			defer store.Close()
			rows, err := store.Query(cmd.Context(), flags.filter())
			if err != nil {
				return err
			}
			for _, row := range rows {
				fmt.Fprintf(cmd.OutOrStdout(), "%d\t%s\t%s\t%s\n",
					row.Sequence, row.EmittedAt.UTC().Format(time.RFC3339), row.Type, row.Attributes)
			}
			return nil
		},
	}
	flags.register(cmd)
	return cmd
}

func newArchiveExportCmd() *cobra.Command {
	var (
		flags archiveFlags
		out   string
	)
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export archived events to a Parquet file",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if out == "" {
				return errors.New("--out required")
			}
			store, err := flags.open()
			if err != nil {
				return err
			}
			defer store.Close()
			n, err := store.ExportParquet(cmd.Context(), out, flags.filter())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "exported %d events to %s\n", n, out)
			return nil
		},
	}
	flags.register(cmd)
	cmd.Flags().StringVar(&out, "out", "", "Parquet file to write")
	return cmd
}
