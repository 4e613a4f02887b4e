package migration

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

const (
	dirMode  = 0o755
	fileMode = 0o644
)

// ErrFileExists is returned when a migration file would overwrite another.
var ErrFileExists = errors.New("migration file already exists")

// Draft describes a migration about to be written.
type Draft struct {
	Key         Key
	Parent      string // empty for the first migration
	ID          string // computed from Parent and Statements when empty
	Statements  []string
	GeneratedBy GeneratedBy
}

// Script joins the draft's statements, one per line, each ending in ';'.
func (d Draft) Script() string {
	parts := make([]string, 0, len(d.Statements))

	for _, s := range d.Statements {
		s = strings.TrimSpace(s)
		if s == "" {
			continue
		}

		if !strings.HasSuffix(s, ";") {
			s += ";"
		}

		parts = append(parts, s)
	}

	return strings.Join(parts, "\n")
}

// FileName returns the name a migration with the given key and id is stored under.
func FileName(key Key, id string) string {
	frag := id
	if len(frag) > idFragmentLen {
		frag = frag[:idFragmentLen]
	}

	return fmt.Sprintf("%s-%s.sql", key, frag)
}

// Write stores d in dir and returns the resulting file.
func Write(dir string, d Draft) (*File, error) {
	if d.Key.IsInitial() {
		return nil, fmt.Errorf("writing migration: %w: the initial key cannot be written", ErrValidation)
	}

	script := d.Script()

	id := d.ID
	if id == "" {
		id = ComputeID(d.Parent, script)
	}

	f := &File{
		Path:        filepath.Join(dir, FileName(d.Key, id)),
		Index:       d.Key.Index(),
		ID:          id,
		ParentID:    d.Parent,
		Text:        script,
		GeneratedBy: d.GeneratedBy,
	}

	if err := os.MkdirAll(dir, dirMode); err != nil {
		return nil, fmt.Errorf("creating migrations directory %s: %w", dir, err)
	}

	out, err := os.OpenFile(f.Path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, fileMode)
	if errors.Is(err, os.ErrExist) {
		return nil, fmt.Errorf("writing migration: %w: %s", ErrFileExists, f.Path)
	}

	if err != nil {
		return nil, fmt.Errorf("writing migration %s: %w", f.Path, err)
	}

	_, werr := out.WriteString(render(f))
	if cerr := out.Close(); werr == nil {
		werr = cerr
	}

	if werr != nil {
		return nil, fmt.Errorf("writing migration %s: %w", f.Path, werr)
	}

	return f, nil
}

// render formats f as file contents.
func render(f *File) string {
	var b strings.Builder

	parent := f.ParentID
	if parent == "" {
		parent = InitialParent
	}

	fmt.Fprintf(&b, "-- id: %s\n", f.ID)
	fmt.Fprintf(&b, "-- parent: %s\n", parent)

	if f.GeneratedBy != "" {
		fmt.Fprintf(&b, "-- generated-by: %s\n", string(f.GeneratedBy))
	}

	b.WriteString("\n")
	b.WriteString(f.Text)
	b.WriteString("\n")

	return b.String()
}
