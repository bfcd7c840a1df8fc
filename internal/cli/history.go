package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"path/filepath"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/jgalley/dumirror/internal/storage"
)

var (
	historyDays   int
	historySince  string
	historyFormat string
	historyLimit  int
)

var historyCmd = &cobra.Command{
	Use:   "history <path>",
	Short: "Show the recorded size of a directory across runs",
	Long: `Show the recorded total size of a directory in every indexed run.

Examples:
  dumirror history /data/projects
  dumirror history /data/projects --days 30
  dumirror history /data/projects --since "2026-01-01"
  dumirror history /data/projects --format json`,
	Args: cobra.ExactArgs(1),
	RunE: runHistory,
}

func init() {
	historyCmd.Flags().IntVar(&historyDays, "days", 0, "show records from the last N days")
	historyCmd.Flags().StringVar(&historySince, "since", "", "show records since date (YYYY-MM-DD)")
	historyCmd.Flags().StringVar(&historyFormat, "format", "text", "output format (text, json)")
	historyCmd.Flags().IntVar(&historyLimit, "limit", 100, "maximum number of records to show")
}

func runHistory(cmd *cobra.Command, args []string) error {
	path, err := filepath.Abs(args[0])
	if err != nil {
		return fmt.Errorf("resolving path: %w", err)
	}

	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	ctx := context.Background()
	index, err := openIndex(ctx, cfg)
	if err != nil {
		return err
	}
	defer index.Close()

	opts := storage.HistoryOptions{
		Directory: path,
		Limit:     historyLimit,
	}

	// Apply time filters
	if historyDays > 0 {
		since := time.Now().AddDate(0, 0, -historyDays)
		opts.Since = &since
	} else if historySince != "" {
		since, err := time.ParseInLocation("2006-01-02", historySince, time.Local)
		if err != nil {
			return fmt.Errorf("invalid date format (use YYYY-MM-DD): %w", err)
		}
		opts.Since = &since
	}

	records, err := index.QueryHistory(ctx, opts)
	if err != nil {
		return fmt.Errorf("querying history: %w", err)
	}

	out := cmd.OutOrStdout()
	if len(records) == 0 {
		fmt.Fprintln(out, "No records found")
		return nil
	}

	switch historyFormat {
	case "json":
		return outputHistoryJSON(out, records)
	default:
		return outputHistoryText(out, records)
	}
}

func outputHistoryText(out io.Writer, records []storage.IndexedRecord) error {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "RUN\tTIMESTAMP\tSIZE\tCHANGE\tENTRIES")
	fmt.Fprintln(w, "---\t---------\t----\t------\t-------")

	for i, r := range records {
		change := "-"
		if i < len(records)-1 {
			diff := r.TotalBytes - records[i+1].TotalBytes
			if diff != 0 {
				sign := "+"
				if diff < 0 {
					sign = ""
				}
				change = sign + formatSize(diff)
			}
		}
		size := formatSize(r.TotalBytes)
		if r.Error != "" {
			size += " (incomplete)"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\n",
			r.RunID,
			r.RecordedAt.Local().Format("2006-01-02 15:04"),
			size,
			change,
			r.EntryCount,
		)
	}
	return w.Flush()
}

type historyJSONRecord struct {
	RunID      string `json:"run_id"`
	Timestamp  string `json:"timestamp"`
	SizeBytes  int64  `json:"size_bytes"`
	SizeHuman  string `json:"size_human"`
	Entries    int    `json:"entries"`
	OutputPath string `json:"output_path"`
	Error      string `json:"error,omitempty"`
	ChangeFrom *int64 `json:"change_from,omitempty"`
}

func outputHistoryJSON(out io.Writer, records []storage.IndexedRecord) error {
	jsonRecords := make([]historyJSONRecord, len(records))
	for i, r := range records {
		jr := historyJSONRecord{
			RunID:      r.RunID,
			Timestamp:  r.RecordedAt.Format(time.RFC3339),
			SizeBytes:  r.TotalBytes,
			SizeHuman:  formatSize(r.TotalBytes),
			Entries:    r.EntryCount,
			OutputPath: r.OutputPath,
			Error:      r.Error,
		}
		if i < len(records)-1 {
			diff := r.TotalBytes - records[i+1].TotalBytes
			jr.ChangeFrom = &diff
		}
		jsonRecords[i] = jr
	}

	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(jsonRecords)
}
