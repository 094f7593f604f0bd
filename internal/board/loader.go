package board

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Loader configuration constants.
const (
	// maxTemplateFileSize is the maximum allowed template file size (1MB).
	// Template documents are small; anything bigger is a mistake.
	maxTemplateFileSize = 1 * 1024 * 1024
)

// LoadResult summarises one directory load.
type LoadResult struct {
	// Registered lists the board ids successfully registered.
	Registered []string

	// Skipped maps file names to the reason they were not registered.
	Skipped map[string]string

	// Warnings collects non-fatal validation warnings, prefixed by board id.
	Warnings []string
}

// LoadDirectory registers every JSON template document found in dir.
//
// Files that fail to parse or validate are skipped with a reason — one bad
// document never poisons the rest. A missing or empty directory is not an
// error; distributing template files is optional.
func LoadDirectory(dir string, store *Store, logger Logger) (*LoadResult, error) {
	if logger == nil {
		logger = noopLogger{}
	}

	result := &LoadResult{Skipped: make(map[string]string)}

	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return result, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading template directory: %w", err)
	}

	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(strings.ToLower(name), ".json") {
			continue
		}

		tpl, err := loadTemplateFile(filepath.Join(dir, name))
		if err != nil {
			result.Skipped[name] = err.Error()
			logger.Warn("skipping template file", "file", name, "error", err)
			continue
		}

		warnings, err := store.Register(tpl)
		for _, w := range warnings {
			result.Warnings = append(result.Warnings, fmt.Sprintf("%s: %s", tpl.BoardID, w))
		}
		if err != nil {
			result.Skipped[name] = err.Error()
			logger.Warn("skipping template file", "file", name, "error", err)
			continue
		}

		result.Registered = append(result.Registered, tpl.BoardID)
	}

	logger.Info("template directory loaded",
		"dir", dir,
		"registered", len(result.Registered),
		"skipped", len(result.Skipped),
	)

	return result, nil
}

// loadTemplateFile reads and decodes a single template document.
func loadTemplateFile(path string) (*Template, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("stat: %w", err)
	}
	if info.Size() > maxTemplateFileSize {
		return nil, fmt.Errorf("file exceeds %d bytes", maxTemplateFileSize)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read: %w", err)
	}

	var tpl Template
	if err := json.Unmarshal(data, &tpl); err != nil {
		return nil, fmt.Errorf("parse: %w", err)
	}

	return &tpl, nil
}
