package artifacts

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/opnlabs/dotmatrix/pkg/store"
	"github.com/opnlabs/dotmatrix/pkg/utils"
)

// DefaultPatterns match the data files written by coverage.py.
var DefaultPatterns = []string{".coverage", ".coverage.*", "coverage.xml"}

type ArtifactManager interface {
	// PublishArtifact takes in a cellID and a path inside the cell's
	// workspace, copies the file to the artifact directory and returns a
	// key that references the artifact.
	PublishArtifact(cellID, workspaceDir, path string) (key string, err error)

	// Artifacts returns the keys published for a cell, in publish order.
	Artifacts(cellID string) []string

	// Collect publishes every file below workspaceDir matching the
	// manager's patterns.
	Collect(cellID, workspaceDir string) ([]string, error)
}

type LocalArtifactsManager struct {
	artifactStore *store.MemStore[[]string]
	artifactsDir  string
	patterns      []string
	skip          []string
}

// NewLocalArtifactsManager clears previous artifacts and creates a new
// artifact directory.
func NewLocalArtifactsManager(artifactsDir string, patterns []string) (*LocalArtifactsManager, error) {
	if clean := filepath.Clean(artifactsDir); clean == "." || clean == string(filepath.Separator) {
		return nil, fmt.Errorf("refusing to use %s as the artifacts directory", artifactsDir)
	}
	if _, err := os.Stat(artifactsDir); err == nil {
		if err := os.RemoveAll(artifactsDir); err != nil {
			return nil, fmt.Errorf("could not remove %s directory: %w", artifactsDir, err)
		}
	}
	if err := os.MkdirAll(artifactsDir, 0755); err != nil {
		return nil, fmt.Errorf("could not create %s directory: %w", artifactsDir, err)
	}
	if len(patterns) == 0 {
		patterns = DefaultPatterns
	}

	return &LocalArtifactsManager{
		artifactStore: store.NewMemStore[[]string](),
		artifactsDir:  artifactsDir,
		patterns:      patterns,
		skip:          []string{".git"},
	}, nil
}

// Dir returns the directory artifacts for cellID are copied to.
func (d *LocalArtifactsManager) Dir(cellID string) string {
	return filepath.Join(d.artifactsDir, cellID)
}

func (d *LocalArtifactsManager) PublishArtifact(cellID, workspaceDir, path string) (string, error) {
	src := filepath.Join(workspaceDir, path)
	key := filepath.ToSlash(filepath.Join(cellID, path))
	dst := filepath.Join(d.artifactsDir, filepath.FromSlash(key))

	if err := os.MkdirAll(filepath.Dir(dst), 0755); err != nil {
		return "", fmt.Errorf("could not create artifact directory for %s: %w", cellID, err)
	}
	if err := copyFile(src, dst); err != nil {
		return "", fmt.Errorf("could not copy artifact %s from %s: %w", path, cellID, err)
	}

	keys, err := d.artifactStore.Get(cellID)
	if err == store.ErrKeyDoesntExist {
		return key, d.artifactStore.Set(cellID, []string{key})
	}
	return key, d.artifactStore.Update(cellID, append(keys, key))
}

func (d *LocalArtifactsManager) Artifacts(cellID string) []string {
	keys, _ := d.artifactStore.Get(cellID)
	return keys
}

func (d *LocalArtifactsManager) Collect(cellID, workspaceDir string) ([]string, error) {
	files, err := utils.MatchFiles(workspaceDir, d.patterns, d.skip)
	if err != nil {
		return nil, fmt.Errorf("could not search %s for artifacts: %w", workspaceDir, err)
	}
	keys := make([]string, 0, len(files))
	for _, f := range files {
		key, err := d.PublishArtifact(cellID, workspaceDir, f)
		if err != nil {
			return keys, err
		}
		keys = append(keys, key)
	}
	return keys, nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
