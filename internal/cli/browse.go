package cli

import (
	"fmt"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"github.com/jgalley/dumirror/internal/browser"
	"github.com/jgalley/dumirror/internal/storage"
)

var browseCmd = &cobra.Command{
	Use:   "browse",
	Short: "Interactively browse past runs",
	Long: `Open a terminal browser over the runs in the output root. Pick a run, then
walk the recorded directories largest first.

Examples:
  dumirror browse
  dumirror browse -o /var/lib/dumirror`,
	Args: cobra.NoArgs,
	RunE: runBrowse,
}

func runBrowse(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	nav := browser.NewNavigator(storage.NewFileStore(cfg.Output.Root))
	p := tea.NewProgram(browser.NewModel(nav, browser.OpenInFileManager), tea.WithAltScreen())
	if _, err := p.Run(); err != nil {
		return fmt.Errorf("running browser: %w", err)
	}
	return nil
}
