package main

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/nugget/airnode/examples"
)

// runInit writes the example configuration to dir/airnode.yaml. An
// existing file is never overwritten.
func runInit(w io.Writer, dir string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create %s: %w", dir, err)
	}

	path := filepath.Join(dir, "airnode.yaml")
	if _, err := os.Stat(path); err == nil {
		fmt.Fprintf(w, "%s already exists, leaving it alone\n", path)
		return nil
	}
	// The config holds Wi-Fi and broker credentials.
	if err := os.WriteFile(path, examples.ConfigYAML, 0o600); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}

	fmt.Fprintf(w, "wrote %s\n", path)
	fmt.Fprintln(w, "Edit the required section, then run: airnode check-config")
	return nil
}
