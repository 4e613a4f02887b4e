package parser //nolint:revive // intentional: does not conflict with go/parser in internal package

import (
	"errors"
	"fmt"
	"strings"

	pg_query "github.com/pganalyze/pg_query_go/v6"
	pgerr "github.com/pganalyze/pg_query_go/v6/parser"
)

// ParseResult holds the parsed AST and original SQL.
type ParseResult struct {
	Stmts []*pg_query.RawStmt
	SQL   string
}

// SyntaxError is a parse failure with the byte offset it points at.
type SyntaxError struct {
	Message string
	Offset  int // byte offset into the parsed SQL, -1 when unknown
}

func (e *SyntaxError) Error() string {
	return e.Message
}

// Parse parses a PostgreSQL SQL string and returns the AST.
// Returns an empty result (zero statements) for empty or whitespace-only input.
// Statement locations and error offsets refer to sql as given.
func Parse(sql string) (*ParseResult, error) {
	if strings.TrimSpace(sql) == "" {
		return &ParseResult{SQL: sql}, nil
	}

	tree, err := pg_query.Parse(sql)
	if err != nil {
		return nil, fmt.Errorf("parsing SQL: %w", syntaxError(sql, err))
	}

	return &ParseResult{
		Stmts: tree.Stmts,
		SQL:   sql,
	}, nil
}

// Split returns the statements of sql without surrounding whitespace.
func Split(sql string) ([]string, error) {
	if strings.TrimSpace(sql) == "" {
		return nil, nil
	}

	stmts, err := pg_query.SplitWithParser(sql, true)
	if err != nil {
		return nil, fmt.Errorf("splitting SQL: %w", syntaxError(sql, err))
	}

	return stmts, nil
}

// StatementText returns the source text of stmt.
func (r *ParseResult) StatementText(stmt *pg_query.RawStmt) string {
	start := int(stmt.StmtLocation)
	end := len(r.SQL)

	if stmt.StmtLen > 0 {
		end = start + int(stmt.StmtLen)
	}

	if start < 0 || start > end || end > len(r.SQL) {
		return ""
	}

	return strings.TrimSpace(r.SQL[start:end])
}

// NeedsAutocommit reports whether sql holds a statement PostgreSQL refuses
// to run inside a transaction block, such as CREATE INDEX CONCURRENTLY or
// VACUUM.
func NeedsAutocommit(sql string) (bool, error) {
	result, err := Parse(sql)
	if err != nil {
		return false, err
	}

	for _, stmt := range result.Stmts {
		if autocommitOnly(stmt.Stmt) {
			return true, nil
		}
	}

	return false, nil
}

func autocommitOnly(n *pg_query.Node) bool {
	switch node := n.Node.(type) {
	case *pg_query.Node_IndexStmt:
		return node.IndexStmt.Concurrent
	case *pg_query.Node_DropStmt:
		return node.DropStmt.Concurrent
	case *pg_query.Node_ReindexStmt:
		for _, p := range node.ReindexStmt.Params {
			if d := p.GetDefElem(); d != nil && d.Defname == "concurrently" {
				return true
			}
		}

		return false
	case *pg_query.Node_VacuumStmt, *pg_query.Node_CreatedbStmt,
		*pg_query.Node_DropdbStmt, *pg_query.Node_AlterSystemStmt:
		return true
	default:
		return false
	}
}

func syntaxError(sql string, err error) error {
	var pe *pgerr.Error
	if !errors.As(err, &pe) {
		return err
	}

	offset := -1
	if pe.Cursorpos > 0 {
		offset = ByteOffset(sql, pe.Cursorpos)
	}

	return &SyntaxError{Message: pe.Message, Offset: offset}
}

// ByteOffset converts a 1-based character position, as reported by the
// PostgreSQL parser and server, into a byte offset into s.
func ByteOffset(s string, pos int) int {
	if pos <= 1 {
		return 0
	}

	n := 1
	for i := range s {
		if n == pos {
			return i
		}

		n++
	}

	return len(s)
}
