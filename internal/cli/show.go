package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/jgalley/dumirror/internal/record"
	"github.com/jgalley/dumirror/internal/storage"
)

var (
	showRun    string
	showFormat string
)

var showCmd = &cobra.Command{
	Use:   "show <path>",
	Short: "Print the recorded breakdown of a directory",
	Long: `Print the record of a scanned directory from the latest run, or from the
run given with --run.

Examples:
  dumirror show /data
  dumirror show /data/projects --run 2024-01-15_14-30-00
  dumirror show /data --format yaml`,
	Args: cobra.ExactArgs(1),
	RunE: runShow,
}

func init() {
	showCmd.Flags().StringVar(&showRun, "run", "", "run id (default: latest run)")
	showCmd.Flags().StringVar(&showFormat, "format", "text", "output format (text, json, yaml)")
}

func runShow(cmd *cobra.Command, args []string) error {
	path, err := filepath.Abs(args[0])
	if err != nil {
		return fmt.Errorf("resolving path: %w", err)
	}

	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	store := storage.NewFileStore(cfg.Output.Root)

	var run storage.Run
	if showRun != "" {
		run, err = store.FindRun(showRun)
	} else {
		run, err = store.LatestRun()
	}
	if err != nil {
		return fmt.Errorf("locating run: %w", err)
	}

	rec, err := store.LoadRecord(run, path)
	if errors.Is(err, storage.ErrNotFound) {
		return fmt.Errorf("%s was not expanded in run %s", path, run.ID)
	}
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	switch showFormat {
	case "json":
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(rec)
	case "yaml":
		enc := yaml.NewEncoder(out)
		enc.SetIndent(2)
		if err := enc.Encode(rec); err != nil {
			return fmt.Errorf("encoding yaml: %w", err)
		}
		return enc.Close()
	case "text":
		return record.Encode(out, rec)
	default:
		return fmt.Errorf("invalid --format value %q: must be text, json or yaml", showFormat)
	}
}
