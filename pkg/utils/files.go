package utils

import (
	"io/fs"
	"path/filepath"
)

// MatchFiles walks dir and returns the paths, relative to dir, of regular
// files whose base name matches any of the glob patterns. Results follow
// walk order.
func MatchFiles(dir string, patterns []string, skip []string) ([]string, error) {
	var matches []string
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return err
		}
		if rel != "." && excluded(rel, skip) {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if !d.Type().IsRegular() {
			return nil
		}
		for _, p := range patterns {
			if ok, _ := filepath.Match(p, d.Name()); ok {
				matches = append(matches, rel)
				break
			}
		}
		return nil
	})
	return matches, err
}
