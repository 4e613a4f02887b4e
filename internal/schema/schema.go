// Package schema loads the target schema from the schema directory and maps
// error positions in it back to the files they came from.
package schema

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/aqasim81/migration-history/internal/parser"
	"github.com/aqasim81/migration-history/internal/sourcemap"
)

// Extension is the file extension of schema files.
const Extension = ".sql"

// ErrNoSchema is returned when the schema directory holds no schema files.
var ErrNoSchema = errors.New("no schema files found")

// ErrInvalidSchema is returned when the schema does not parse.
var ErrInvalidSchema = errors.New("invalid schema")

// Target is the desired schema: every schema file concatenated, with a map
// back to the files.
type Target struct {
	Text string
	Map  *sourcemap.SourceMap[string]
}

// Location is a position inside a schema file.
type Location struct {
	File   string
	Line   int
	Column int
}

func (l Location) String() string {
	return fmt.Sprintf("%s:%d:%d", l.File, l.Line, l.Column)
}

// LocatedError is an error attributed to a position in a schema file.
type LocatedError struct {
	Location Location
	Err      error
}

func (e *LocatedError) Error() string {
	return fmt.Sprintf("%s: %v", e.Location, e.Err)
}

func (e *LocatedError) Unwrap() error {
	return e.Err
}

// Load reads every schema file under dir, in lexical path order.
func Load(dir string) (*Target, error) {
	var paths []string

	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}

		if !d.IsDir() && strings.HasSuffix(d.Name(), Extension) {
			paths = append(paths, path)
		}

		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("reading schema directory %s: %w", dir, err)
	}

	if len(paths) == 0 {
		return nil, fmt.Errorf("%w in %s", ErrNoSchema, dir)
	}

	sort.Strings(paths)

	b := sourcemap.NewBuilder[string]()

	for _, p := range paths {
		data, err := os.ReadFile(p)
		if err != nil {
			return nil, fmt.Errorf("reading schema file %s: %w", p, err)
		}

		b.AddLines(p, string(data))
	}

	text, m := b.Done()

	return &Target{Text: text, Map: m}, nil
}

// Validate parses the schema and reports the first syntax error at its
// file position.
func (t *Target) Validate() error {
	_, err := parser.Parse(t.Text)
	if err == nil {
		return nil
	}

	var se *parser.SyntaxError
	if errors.As(err, &se) && se.Offset >= 0 {
		if loc, lerr := t.Locate(se.Offset); lerr == nil {
			return &LocatedError{Location: loc, Err: fmt.Errorf("%w: %s", ErrInvalidSchema, se.Message)}
		}
	}

	return fmt.Errorf("%w: %w", ErrInvalidSchema, err)
}

// Locate maps a byte offset in Text to a file position.
func (t *Target) Locate(offset int) (Location, error) {
	name, local, err := t.Map.TranslateRange(offset, offset)
	if err != nil {
		return Location{}, err
	}

	start := offset - local
	line, col := lineColumn(t.Text[start:offset])

	return Location{File: name, Line: line, Column: col}, nil
}

// LocateServerError attributes a server error to a schema file when the
// error carries a position inside the target text. prefixLen is the byte
// length of statement before the embedded target text.
func (t *Target) LocateServerError(err error, statement string, prefixLen int) error {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) || pgErr.Position <= 0 {
		return err
	}

	offset := parser.ByteOffset(statement, int(pgErr.Position)) - prefixLen
	if offset < 0 || offset >= len(t.Text) {
		return err
	}

	loc, lerr := t.Locate(offset)
	if lerr != nil {
		return err
	}

	return &LocatedError{Location: loc, Err: err}
}

// lineColumn returns the 1-based line and column at the end of s.
func lineColumn(s string) (int, int) {
	line := 1
	lineStart := 0

	for i := 0; i < len(s); i++ {
		switch s[i] {
		case '\n':
			line++
			lineStart = i + 1
		case '\r':
			if i+1 < len(s) && s[i+1] == '\n' {
				continue
			}

			line++
			lineStart = i + 1
		}
	}

	return line, utf8.RuneCountInString(s[lineStart:]) + 1
}
