package main

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/yairfalse/lambdactl/pkg/instance"
)

var errJournalDisabled = errors.New("journal is disabled: set journal.path in the config file")

func newJournalCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "journal",
		Short: "Inspect the local operation journal",
		Long: `Inspect the local operation journal.

When journal.path is configured, every launch, termination and
long-running check is recorded there.`,
	}

	var (
		limit  int
		asJSON bool
	)
	list := &cobra.Command{
		Use:   "list",
		Short: "List recent journal entries, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := a.setup(cmd, nil); err != nil {
				return err
			}

			j, err := a.openJournal()
			if err != nil {
				return err
			}
			if j == nil {
				return errJournalDisabled
			}
			entries, err := j.List(limit)
			if err != nil {
				return err
			}

			if asJSON {
				return writeJSON(a.stdout, entries)
			}
			if len(entries) == 0 {
				fmt.Fprintln(a.stdout, "Journal is empty.")
				return nil
			}

			w := newTable(a.stdout)
			fmt.Fprintln(w, "SEQ\tTIME\tKIND\tINSTANCES\tERROR")
			for _, e := range entries {
				fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\n",
					e.Sequence, instance.FormatTime(e.Timestamp), e.Kind,
					orDash(strings.Join(e.InstanceIDs, ",")), orDash(e.Error))
			}
			return w.Flush()
		},
	}
	list.Flags().IntVar(&limit, "limit", 20, "Maximum entries to show; 0 shows all")
	list.Flags().BoolVar(&asJSON, "json", false, "Output JSON")

	cmd.AddCommand(list)
	return cmd
}
