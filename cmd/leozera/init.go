package main

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/camppoia/leozera/internal/defaults"
)

// runInit initializes a Leozera working directory: the database and
// knowledge directories, an example config, an example .env and a
// starter support document. Existing files are never overwritten.
func runInit(w io.Writer, dir string) error {
	fmt.Fprintf(w, "Initializing Leozera workspace in %s\n", dir)

	for _, sub := range []string{"db", "knowledge"} {
		path := filepath.Join(dir, sub)
		if err := os.MkdirAll(path, 0o755); err != nil {
			return fmt.Errorf("create %s: %w", path, err)
		}
	}

	files := []struct {
		name    string
		content []byte
		perm    os.FileMode
	}{
		// config.yaml and .env may hold credentials.
		{"config.yaml", defaults.ConfigYAML, 0o600},
		{".env", defaults.EnvExample, 0o600},
		{filepath.Join("knowledge", "material_de_apoio.md"), defaults.SupportMD, 0o644},
	}
	for _, f := range files {
		path := filepath.Join(dir, f.name)
		if err := writeIfMissing(path, f.content, f.perm); err != nil {
			return err
		}
		fmt.Fprintf(w, "  ✓ %s\n", path)
	}

	fmt.Fprintln(w)
	fmt.Fprintln(w, "Fill in .env and review config.yaml, then run: leozera serve")
	return nil
}

// writeIfMissing writes content to path only if the file does not
// already exist.
func writeIfMissing(path string, content []byte, perm os.FileMode) error {
	if _, err := os.Stat(path); err == nil {
		return nil
	}
	if err := os.WriteFile(path, content, perm); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}
