package main

import (
	"fmt"
	"os"
	"sort"
	"strings"
	"text/tabwriter"

	"github.com/jonboulle/clockwork"
	"github.com/spf13/cobra"

	"github.com/couchcryptid/nfirs-geocode-etl/internal/pipeline"
)

func createStatusCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show where each year stands",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			statuses, err := pipeline.Inspect(a.store, clockwork.NewRealClock(), a.logger)
			if err != nil {
				return err
			}

			tw := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(tw, "YEAR\tCLEANED\tGEOCODED\tBATCHES\tPENDING\tJOBS")
			for _, s := range statuses {
				fmt.Fprintf(tw, "%d\t%s\t%s\t%d\t%d\t%s\n",
					s.Year, yesNo(s.Cleaned), yesNo(s.Geocoded), s.BatchFiles, s.PendingFiles, formatJobs(s))
			}
			return tw.Flush()
		},
	}
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}

func formatJobs(s pipeline.YearStatus) string {
	if s.LedgerError != "" {
		return "ledger: " + s.LedgerError
	}
	if len(s.Jobs) == 0 {
		return "-"
	}
	parts := make([]string, 0, len(s.Jobs))
	for status, n := range s.Jobs {
		parts = append(parts, fmt.Sprintf("%s=%d", status, n))
	}
	sort.Strings(parts)
	return strings.Join(parts, " ")
}
