package config

import (
	"fmt"
	"path/filepath"

	"github.com/empix-data/empix/internal/fsutil"
)

// maxConfigSize bounds config files so a mistyped path to a large file
// fails fast instead of being slurped and parsed.
const maxConfigSize = 1 * 1024 * 1024

// readJSONConfig validates and reads a JSON config file through fsys.
func readJSONConfig(fsys fsutil.FileSystem, path string) ([]byte, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("config file must have .json extension, got %q", ext)
	}

	fileInfo, err := fsys.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	if fileInfo.Size() > maxConfigSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxConfigSize)
	}

	data, err := fsys.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return data, nil
}
