package cli

import (
	"encoding/json"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/jgalley/dumirror/internal/browser"
	"github.com/jgalley/dumirror/internal/storage"
)

var runsFormat string

var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "List scan runs in the output root",
	Long: `List the timestamped runs under the output root, newest first.

Examples:
  dumirror runs
  dumirror runs -o /var/lib/dumirror --format json`,
	Args: cobra.NoArgs,
	RunE: runRuns,
}

func init() {
	runsCmd.Flags().StringVar(&runsFormat, "format", "text", "output format (text, json)")
}

type runJSONRecord struct {
	ID          string   `json:"id"`
	Time        string   `json:"time"`
	Dir         string   `json:"dir"`
	Roots       []string `json:"roots"`
	RecordCount int      `json:"records"`
}

func runRuns(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	store := storage.NewFileStore(cfg.Output.Root)
	runs, err := store.ListRuns()
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if len(runs) == 0 {
		fmt.Fprintf(out, "No runs found in %s\n", cfg.Output.Root)
		return nil
	}

	records := make([]runJSONRecord, 0, len(runs))
	for _, r := range runs {
		all, err := store.ListOutputPaths(r)
		if err != nil {
			return err
		}
		roots, err := store.ListImmediateOutputPaths(r)
		if err != nil {
			return err
		}
		records = append(records, runJSONRecord{
			ID:          r.ID,
			Time:        r.Time.Format(time.RFC3339),
			Dir:         r.Dir,
			Roots:       roots,
			RecordCount: len(all),
		})
	}

	if runsFormat == "json" {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(records)
	}

	now := time.Now()
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "RUN\tWHEN\tAGE\tRECORDS\tROOT")
	fmt.Fprintln(w, "---\t----\t---\t-------\t----")
	for i, r := range runs {
		root := "-"
		if len(records[i].Roots) > 0 {
			root = records[i].Roots[0]
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\n",
			r.ID,
			browser.RunLabel(r.Time, now),
			browser.RunAge(r.Time, now),
			records[i].RecordCount,
			root,
		)
	}
	return w.Flush()
}
