package holystore

import (
	"errors"
	"fmt"
	"text/tabwriter"

	"github.com/dustin/go-humanize"
	"github.com/garder500/holystore/pkg/storage"
	"github.com/spf13/cobra"
)

func newListCmd(opts *globalOptions) *cobra.Command {
	var raw bool
	cmd := &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List every object recorded in the bucket journals",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			database, _, err := opts.openDatabase(cmd)
			if err != nil {
				return err
			}
			defer database.Close()
			s, err := database.Storage()
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if raw {
				listing, err := s.Listing(cmd.Context())
				if err != nil {
					return err
				}
				for _, l := range listing {
					fmt.Fprint(out, l)
				}
				return nil
			}

			entries, err := s.Entries(cmd.Context())
			if err != nil {
				return err
			}
			tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tNAME\tTYPE\tSIZE\tMODIFIED")
			for _, e := range entries {
				fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\n", e.ID, e.Name, e.Type, humanize.IBytes(uint64(e.Length)), humanize.Time(e.Modified()))
			}
			return tw.Flush()
		},
	}
	cmd.Flags().BoolVar(&raw, "raw", false, "print the journal files verbatim")
	return cmd
}

func newChangelogCmd(opts *globalOptions) *cobra.Command {
	var clearLog bool
	cmd := &cobra.Command{
		Use:   "changelog",
		Short: "Print or clear the audit log",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			database, _, err := opts.openDatabase(cmd)
			if err != nil {
				return err
			}
			defer database.Close()
			s, err := database.Storage()
			if err != nil {
				return err
			}

			if clearLog {
				if err := s.ClearChangelog(cmd.Context()); err != nil && !errors.Is(err, storage.ErrNotFound) {
					return err
				}
				return nil
			}
			lines, err := s.Changelog(cmd.Context())
			if errors.Is(err, storage.ErrNotFound) {
				return nil
			}
			if err != nil {
				return err
			}
			for _, l := range lines {
				fmt.Fprintln(cmd.OutOrStdout(), l)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&clearLog, "clear", false, "delete the audit log")
	return cmd
}

func newReindexCmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "reindex",
		Short: "Rebuild bucket journals and counters from the records on disk",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			database, _, err := opts.openDatabase(cmd)
			if err != nil {
				return err
			}
			defer database.Close()
			s, err := database.Storage()
			if err != nil {
				return err
			}
			c, err := s.Reindex(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "index %d, %s objects\n", c.Index, humanize.Comma(c.Count))
			return nil
		},
	}
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "HolyStore version %s\n", Version)
		},
	}
}
