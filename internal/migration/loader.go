package migration

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"
)

// idFragmentLen is how many characters of the id appear in a file name.
const idFragmentLen = 10

// filenamePattern matches migration files: {index}-{id fragment}.sql,
// e.g. 00001-m1Xq3bT9aa.sql.
var filenamePattern = regexp.MustCompile( //nolint:gochecknoglobals // compiled once, used by ReadAll
	`^(\d{5,})-([1-9A-HJ-NP-Za-km-z]+)\.sql$`,
)

// headerPattern matches one header line at the top of a migration file.
var headerPattern = regexp.MustCompile( //nolint:gochecknoglobals // compiled once, used by parseFile
	`^--\s*(id|parent|generated-by):\s*(\S*)\s*$`,
)

// ReadAll reads every migration in dir and returns them parent-first.
// With includeScripts the script text is kept and every id is checked
// against the content it addresses. A missing directory yields an empty
// sequence.
func ReadAll(dir string, includeScripts bool) (*Ordered[*File], error) {
	entries, err := os.ReadDir(dir)
	if errors.Is(err, fs.ErrNotExist) {
		return NewOrdered[*File](), nil
	}

	if err != nil {
		return nil, fmt.Errorf("reading migrations directory %s: %w", dir, err)
	}

	files, err := scanEntries(dir, entries)
	if err != nil {
		return nil, err
	}

	for _, f := range files {
		if !includeScripts {
			f.Text = ""
			continue
		}

		if want := ComputeID(f.ParentID, f.Text); want != f.ID {
			return nil, fmt.Errorf("%w: %s was modified after it was written (id %s, content hashes to %s); "+
				"run `migrate migration fixup`", ErrValidation, f.Path, f.ID, want)
		}
	}

	seq, err := LinearizeFiles(files)
	if err != nil {
		return nil, fmt.Errorf("reading migrations directory %s: %w", dir, err)
	}

	for i, f := range seq.Values() {
		if f.Index != uint64(i+1) {
			return nil, fmt.Errorf("%w: %s is at position %d of the history but numbered %d",
				ErrValidation, f.Path, i+1, f.Index)
		}
	}

	return seq, nil
}

// scanEntries parses every matching file and returns them in index order.
func scanEntries(dir string, entries []os.DirEntry) ([]*File, error) {
	var files []*File

	seen := make(map[uint64]string)

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}

		matches := filenamePattern.FindStringSubmatch(entry.Name())
		if matches == nil {
			continue
		}

		index, err := strconv.ParseUint(matches[1], 10, 64)
		if err != nil || index == 0 {
			return nil, fmt.Errorf("%w: bad migration index in %s", ErrValidation, entry.Name())
		}

		if other, dup := seen[index]; dup {
			return nil, fmt.Errorf("%w: %s and %s share index %d", ErrValidation, other, entry.Name(), index)
		}

		seen[index] = entry.Name()

		f, err := readFile(filepath.Join(dir, entry.Name()), index, matches[2])
		if err != nil {
			return nil, err
		}

		files = append(files, f)
	}

	sort.Slice(files, func(i, j int) bool { return files[i].Index < files[j].Index })

	return files, nil
}

func readFile(path string, index uint64, fragment string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading migration file %s: %w", path, err)
	}

	f, err := parseFile(string(data))
	if err != nil {
		return nil, fmt.Errorf("parsing migration file %s: %w", path, err)
	}

	f.Path = path
	f.Index = index

	if !strings.HasPrefix(f.ID, fragment) {
		return nil, fmt.Errorf("%w: file name %s does not match migration id %s",
			ErrValidation, filepath.Base(path), f.ID)
	}

	return f, nil
}

// parseFile splits a migration file into its header and script.
func parseFile(data string) (*File, error) {
	f := &File{}

	lines := strings.SplitAfter(data, "\n")

	i := 0
	for ; i < len(lines); i++ {
		m := headerPattern.FindStringSubmatch(strings.TrimSpace(lines[i]))
		if m == nil {
			break
		}

		applyHeader(f, m[1], m[2])
	}

	f.Text = strings.TrimSpace(strings.Join(lines[i:], ""))

	if f.ID == "" {
		return nil, fmt.Errorf("%w: missing `-- id:` header", ErrValidation)
	}

	return f, nil
}

func applyHeader(f *File, key, value string) {
	switch key {
	case "id":
		f.ID = value
	case "parent":
		if value != InitialParent {
			f.ParentID = value
		}
	case "generated-by":
		f.GeneratedBy = GeneratedBy(value)
	}
}
