package browser

import (
	"fmt"
	"os"
	"os/exec"
	"runtime"
)

// OpenInFileManager shows path in the platform's file manager. The path must
// still exist on this machine.
func OpenInFileManager(path string) error {
	if _, err := os.Stat(path); err != nil {
		return fmt.Errorf("accessing path: %w", err)
	}

	var name string
	switch runtime.GOOS {
	case "darwin":
		name = "open"
	case "windows":
		name = "explorer"
	default:
		name = "xdg-open"
	}

	cmd := exec.Command(name, path)
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("starting %s: %w", name, err)
	}
	go cmd.Wait()
	return nil
}
