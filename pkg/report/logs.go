package report

import (
	"fmt"
	"os"
	"path/filepath"
)

// LogStorage manages the build log files of a run.
type LogStorage struct {
	BaseDir string
}

func NewLogStorage(baseDir string) *LogStorage {
	return &LogStorage{BaseDir: baseDir}
}

// Open creates the build log for a cell, truncating an older one.
func (ls *LogStorage) Open(cellID string) (*os.File, error) {
	if err := os.MkdirAll(ls.BaseDir, 0775); err != nil {
		return nil, err
	}
	f, err := os.Create(ls.Path(cellID))
	if err != nil {
		return nil, fmt.Errorf("could not create build log for %s: %w", cellID, err)
	}
	return f, nil
}

// Path returns where the build log of cellID is written.
func (ls *LogStorage) Path(cellID string) string {
	return filepath.Join(ls.BaseDir, cellID+".log")
}
