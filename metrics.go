package madb

import (
	"errors"
	"os"
	"path/filepath"

	"github.com/gobwas/glob"
)

// listMetrics enumerates the metric directories under base.
func listMetrics(base string) ([]string, error) {
	entries, err := os.ReadDir(filepath.Join(base, metricsDir))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, newStorageError(StorageErrorTypeRead, "scan metrics directory", filepath.Join(base, metricsDir), err)
	}
	var out []string
	for _, entry := range entries {
		if entry.IsDir() {
			out = append(out, entry.Name())
		}
	}
	return out, nil
}

// filterPattern keeps the names matching a glob pattern.
func filterPattern(names []string, pattern string) ([]string, error) {
	g, err := glob.Compile(pattern)
	if err != nil {
		return nil, err
	}
	var out []string
	for _, name := range names {
		if g.Match(name) {
			out = append(out, name)
		}
	}
	return out, nil
}
