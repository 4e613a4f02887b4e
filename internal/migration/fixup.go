package migration

import (
	"fmt"
	"os"
	"path/filepath"
)

// IDChange pairs a migration's stale id with its recomputed one.
type IDChange struct {
	Old string
	New string
}

// Fixup recomputes the id of every migration in dir from its parent and
// script, rewriting files whose id or parent changed. Files are processed in
// index order so a renamed parent is propagated to its children. Parents
// outside dir are kept as they are.
func Fixup(dir string) ([]IDChange, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("reading migrations directory %s: %w", dir, err)
	}

	files, err := scanEntries(dir, entries)
	if err != nil {
		return nil, err
	}

	renamed := make(map[string]string)

	var changes []IDChange

	for _, f := range files {
		parent := f.ParentID
		if p, ok := renamed[parent]; ok {
			parent = p
		}

		id := ComputeID(parent, f.Text)
		if id == f.ID && parent == f.ParentID {
			continue
		}

		if err := rewrite(dir, f, parent, id); err != nil {
			return changes, err
		}

		if id != f.ID {
			changes = append(changes, IDChange{Old: f.ID, New: id})
			renamed[f.ID] = id
		}
	}

	return changes, nil
}

func rewrite(dir string, f *File, parent, id string) error {
	oldPath := f.Path

	updated := *f
	updated.ParentID = parent
	updated.ID = id
	updated.Path = filepath.Join(dir, FileName(Index(f.Index), id))

	if err := os.WriteFile(updated.Path, []byte(render(&updated)), fileMode); err != nil {
		return fmt.Errorf("rewriting migration %s: %w", updated.Path, err)
	}

	if updated.Path != oldPath {
		if err := os.Remove(oldPath); err != nil {
			return fmt.Errorf("removing stale migration %s: %w", oldPath, err)
		}
	}

	return nil
}
