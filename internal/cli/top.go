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

	"github.com/jgalley/dumirror/internal/record"
	"github.com/jgalley/dumirror/internal/storage"
)

var (
	topDays      int
	topSince     string
	topUntil     string
	topDirection string
	topMinChange string
	topLimit     int
	topFormat    string
)

var topCmd = &cobra.Command{
	Use:   "top <base-path>",
	Short: "Find directories with largest usage changes",
	Long: `Find recorded directories with the largest disk usage changes over a time
interval, comparing each directory's first and last indexed record.

Examples:
  dumirror top /data --days 7
  dumirror top /data --direction increase --limit 5
  dumirror top /data --min-change 1G --format json
  dumirror top /data --since "2026-01-01" --until "2026-01-31"`,
	Args: cobra.ExactArgs(1),
	RunE: runTop,
}

func init() {
	topCmd.Flags().IntVar(&topDays, "days", 7, "look back N days from now")
	topCmd.Flags().StringVar(&topSince, "since", "", "start of time range (YYYY-MM-DD)")
	topCmd.Flags().StringVar(&topUntil, "until", "", "end of time range (YYYY-MM-DD)")
	topCmd.Flags().StringVar(&topDirection, "direction", "both", "filter: \"increase\", \"decrease\", \"both\"")
	topCmd.Flags().StringVar(&topMinChange, "min-change", "0", "minimum change threshold (e.g., \"100M\", \"1G\")")
	topCmd.Flags().IntVar(&topLimit, "limit", 10, "maximum results")
	topCmd.Flags().StringVar(&topFormat, "format", "text", "output format (text, json)")
}

// topOptions builds the query from the command line flags.
func topOptions(basePath string, now time.Time) (storage.TopChangerOptions, error) {
	var since, until time.Time
	var err error
	if topSince != "" {
		since, err = time.ParseInLocation("2006-01-02", topSince, time.Local)
		if err != nil {
			return storage.TopChangerOptions{}, fmt.Errorf("invalid --since date format (use YYYY-MM-DD): %w", err)
		}
	} else {
		since = now.AddDate(0, 0, -topDays)
	}

	if topUntil != "" {
		until, err = time.ParseInLocation("2006-01-02", topUntil, time.Local)
		if err != nil {
			return storage.TopChangerOptions{}, fmt.Errorf("invalid --until date format (use YYYY-MM-DD): %w", err)
		}
		// Set to end of day
		until = until.Add(24*time.Hour - time.Second)
	} else {
		until = now
	}

	var minChangeBytes int64
	if topMinChange != "" && topMinChange != "0" {
		minChangeBytes, err = record.ParseSize(topMinChange)
		if err != nil {
			return storage.TopChangerOptions{}, fmt.Errorf("invalid --min-change value: %w", err)
		}
	}

	if topDirection != "increase" && topDirection != "decrease" && topDirection != "both" {
		return storage.TopChangerOptions{}, fmt.Errorf("invalid --direction value: must be \"increase\", \"decrease\", or \"both\"")
	}

	return storage.TopChangerOptions{
		BasePath:       basePath,
		Since:          since,
		Until:          until,
		Direction:      topDirection,
		MinChangeBytes: minChangeBytes,
		Limit:          topLimit,
	}, nil
}

func runTop(cmd *cobra.Command, args []string) error {
	basePath, err := filepath.Abs(args[0])
	if err != nil {
		return fmt.Errorf("resolving path: %w", err)
	}

	opts, err := topOptions(basePath, time.Now())
	if err != nil {
		return err
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

	changes, err := index.GetTopChangers(ctx, opts)
	if err != nil {
		return fmt.Errorf("querying top changers: %w", err)
	}

	out := cmd.OutOrStdout()
	if len(changes) == 0 {
		fmt.Fprintln(out, "No changes found")
		return nil
	}

	switch topFormat {
	case "json":
		return outputTopJSON(out, basePath, changes)
	default:
		return outputTopText(out, changes)
	}
}

func outputTopText(out io.Writer, changes []storage.DirectoryChange) error {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "DIRECTORY\tBEFORE\tAFTER\tCHANGE\t%")
	fmt.Fprintln(w, "---------\t------\t-----\t------\t-")

	for _, c := range changes {
		sign := "+"
		if c.ChangeBytes < 0 {
			sign = ""
		}
		percentStr := fmt.Sprintf("%+.0f%%", c.ChangePercent)
		fmt.Fprintf(w, "%s\t%s\t%s\t%s%s\t%s\n",
			c.Directory,
			formatSize(c.StartSize),
			formatSize(c.EndSize),
			sign, formatSize(c.ChangeBytes),
			percentStr,
		)
	}
	return w.Flush()
}

type topJSONRecord struct {
	Directory      string  `json:"directory"`
	BasePath       string  `json:"base_path"`
	StartSize      int64   `json:"start_size_bytes"`
	StartSizeHuman string  `json:"start_size_human"`
	EndSize        int64   `json:"end_size_bytes"`
	EndSizeHuman   string  `json:"end_size_human"`
	StartTime      string  `json:"start_time"`
	EndTime        string  `json:"end_time"`
	ChangeBytes    int64   `json:"change_bytes"`
	ChangeHuman    string  `json:"change_human"`
	ChangePercent  float64 `json:"change_percent"`
}

func outputTopJSON(out io.Writer, basePath string, changes []storage.DirectoryChange) error {
	records := make([]topJSONRecord, len(changes))
	for i, c := range changes {
		records[i] = topJSONRecord{
			Directory:      c.Directory,
			BasePath:       basePath,
			StartSize:      c.StartSize,
			StartSizeHuman: formatSize(c.StartSize),
			EndSize:        c.EndSize,
			EndSizeHuman:   formatSize(c.EndSize),
			StartTime:      c.StartTime.Format(time.RFC3339),
			EndTime:        c.EndTime.Format(time.RFC3339),
			ChangeBytes:    c.ChangeBytes,
			ChangeHuman:    formatSize(c.ChangeBytes),
			ChangePercent:  c.ChangePercent,
		}
	}

	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(records)
}
