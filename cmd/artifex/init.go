package main

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/artifex-labs/artifex/internal/defaults"
)

// runInit initializes an Artifex working directory: the data and
// projects subdirectories plus a starter config file. Existing files
// are never overwritten.
func runInit(w io.Writer, dir string) error {
	fmt.Fprintf(w, "Initializing Artifex workspace in %s\n", dir)

	for _, sub := range []string{"data", "projects"} {
		path := filepath.Join(dir, sub)
		if err := os.MkdirAll(path, 0o755); err != nil {
			return fmt.Errorf("create %s: %w", path, err)
		}
	}

	configPath := filepath.Join(dir, "artifex.yaml")
	if err := writeIfMissing(configPath, defaults.ConfigYAML); err != nil {
		return err
	}
	fmt.Fprintf(w, "  ✓ %s\n", configPath)

	fmt.Fprintln(w)
	fmt.Fprintln(w, "Edit artifex.yaml to point at your model backend and search engine,")
	fmt.Fprintln(w, "then start the daemon with: artifex serve")
	return nil
}

// writeIfMissing writes content to path only if the file does not
// already exist, so init never overwrites user customizations.
func writeIfMissing(path string, content []byte) error {
	if _, err := os.Stat(path); err == nil {
		return nil
	}
	return os.WriteFile(path, content, 0o644)
}
