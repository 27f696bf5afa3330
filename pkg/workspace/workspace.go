// Package workspace creates the private directory tree a cell runs in.
package workspace

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/opnlabs/dotmatrix/pkg/models"
	"github.com/opnlabs/dotmatrix/pkg/utils"
)

// Workspace is the directory tree owned by one cell:
//
//	<root>/<run>/<cell>/src    copy of the project
//	<root>/<run>/<cell>/state  shell state carried between commands
type Workspace struct {
	Dir   string
	Src   string
	State string
}

// New copies src into a fresh workspace for cell. Paths in excludes are
// relative to src and are not copied.
func New(root, runID string, cell models.Cell, src string, excludes []string) (*Workspace, error) {
	root, err := filepath.Abs(root)
	if err != nil {
		return nil, err
	}
	src, err = filepath.Abs(src)
	if err != nil {
		return nil, err
	}

	dir := filepath.Join(root, runID, cell.ID)
	if _, err := os.Stat(dir); err == nil {
		return nil, fmt.Errorf("workspace %s already exists", dir)
	}

	ws := &Workspace{
		Dir:   dir,
		Src:   filepath.Join(dir, "src"),
		State: filepath.Join(dir, "state"),
	}
	if err := os.MkdirAll(ws.State, 0755); err != nil {
		return nil, fmt.Errorf("could not create workspace for %s: %w", cell.ID, err)
	}
	if err := utils.TarCopy(src, ws.Src, excludes); err != nil {
		os.RemoveAll(dir)
		return nil, fmt.Errorf("could not copy %s into workspace for %s: %w", src, cell.ID, err)
	}
	return ws, nil
}

// Remove deletes the workspace.
func (w *Workspace) Remove() error {
	return os.RemoveAll(w.Dir)
}

// Excludes returns the paths of dirs relative to src, for those dirs that
// live inside src. Used to keep build output out of the workspace copy.
func Excludes(src string, dirs ...string) []string {
	abs, err := filepath.Abs(src)
	if err != nil {
		return nil
	}
	var out []string
	for _, d := range dirs {
		ad, err := filepath.Abs(d)
		if err != nil {
			continue
		}
		rel, err := filepath.Rel(abs, ad)
		if err != nil || rel == "." || rel == ".." || filepath.IsAbs(rel) || len(rel) > 2 && rel[:3] == ".."+string(filepath.Separator) {
			continue
		}
		out = append(out, rel)
	}
	return out
}
