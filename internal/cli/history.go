package cli

import (
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/arduino/libraries-repository-engine/internal/store"
)

// HistoryOptions holds flags for the history command.
type HistoryOptions struct {
	*RootOptions
	Ledger   string
	Scenario string
}

// RunSummary is one snapshot in the history listing.
type RunSummary struct {
	Session  string         `json:"session"`
	Scenario string         `json:"scenario"`
	Label    string         `json:"label"`
	Seq      int64          `json:"seq"`
	Records  map[string]int `json:"records"`
	Files    int            `json:"files"`
}

// NewHistoryCommand creates the history command.
func NewHistoryCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &HistoryOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "history",
		Short: "List snapshots recorded in a ledger",
		Long: `List the snapshots a verify or twopass run recorded with --ledger, in the
order they were taken.

Example:
  engine-verify history --ledger runs.db --scenario sync_two_pass`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runHistory(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Ledger, "ledger", "", "snapshot ledger file (required)")
	cmd.Flags().StringVar(&opts.Scenario, "scenario", "", "only list this scenario")
	_ = cmd.MarkFlagRequired("ledger")

	return cmd
}

func runHistory(opts *HistoryOptions, cmd *cobra.Command) error {
	// Opening creates the file, so a typo would list an empty ledger.
	if _, err := os.Stat(opts.Ledger); err != nil {
		return WrapExitError(ExitCommandError, "ledger not found", err)
	}
	st, err := store.Open(opts.Ledger)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to open ledger", err)
	}
	defer st.Close()

	runs, err := st.ListRuns(cmd.Context(), opts.Scenario)
	if err != nil {
		return err
	}
	summaries := make([]RunSummary, len(runs))
	for i, r := range runs {
		summaries[i] = RunSummary{
			Session:  r.Session,
			Scenario: r.Scenario,
			Label:    r.Label,
			Seq:      r.Seq,
			Records:  r.Records,
			Files:    r.Files,
		}
	}

	out := opts.formatter(cmd)
	if opts.Format == "json" {
		return out.Success(summaries)
	}
	if len(summaries) == 0 {
		out.Note("No snapshots recorded.")
		return nil
	}

	tw := tabwriter.NewWriter(out.Writer, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "SEQ\tSCENARIO\tLABEL\tSESSION\tRECORDS\tFILES")
	for _, s := range summaries {
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\t%d\n", s.Seq, s.Scenario, s.Label, s.Session, formatCounts(s.Records), s.Files)
	}
	return tw.Flush()
}

func formatCounts(counts map[string]int) string {
	parts := make([]string, 0, len(counts))
	for _, c := range []string{store.CollectionLibraries, store.CollectionReleases, store.CollectionIndex} {
		if n, ok := counts[c]; ok {
			parts = append(parts, fmt.Sprintf("%s=%d", c, n))
		}
	}
	return strings.Join(parts, " ")
}
