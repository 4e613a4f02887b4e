// Package analyzer flags DDL that is risky to run against a live database:
// statements that take long locks, rewrite tables or lose data.
package analyzer

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/aqasim81/migration-history/internal/migration"
	"github.com/aqasim81/migration-history/internal/parser"
)

// Option configures the Analyzer.
type Option func(*Analyzer)

// Analyzer runs registered rules against parsed SQL.
type Analyzer struct {
	registry  *Registry
	parseFn   func(string) (*parser.ParseResult, error)
	pgVersion int
}

// New creates a new Analyzer with the given options.
func New(opts ...Option) *Analyzer {
	a := &Analyzer{
		registry:  NewRegistry(),
		parseFn:   parser.Parse,
		pgVersion: 14, //nolint:mnd // default PostgreSQL version
	}

	for _, opt := range opts {
		opt(a)
	}

	return a
}

// WithRegistry sets a custom rule registry.
func WithRegistry(r *Registry) Option {
	return func(a *Analyzer) { a.registry = r }
}

// WithPGVersion sets the target PostgreSQL major version.
func WithPGVersion(v int) Option {
	return func(a *Analyzer) { a.pgVersion = v }
}

// WithParser overrides the SQL parser function.
func WithParser(fn func(string) (*parser.ParseResult, error)) Option {
	return func(a *Analyzer) { a.parseFn = fn }
}

// Analyze parses sql and runs every rule on each statement. source names
// where the SQL came from and is only used for reporting.
func (a *Analyzer) Analyze(source, sql string) (*AnalysisResult, error) {
	parsed, err := a.parseFn(sql)
	if err != nil {
		return nil, fmt.Errorf("parsing %s: %w", source, err)
	}

	res := &AnalysisResult{Source: source, MaxSeverity: Safe}

	for i, stmt := range parsed.Stmts {
		ctx := &RuleContext{
			Source:          source,
			TargetPGVersion: a.pgVersion,
			StmtIndex:       i,
			SQL:             sql,
		}
		text := parsed.StatementText(stmt)

		for _, rule := range a.registry.Rules() {
			for _, f := range rule.Check(stmt, ctx) {
				if f.Statement == "" {
					f.Statement = text
				}

				res.add(f)
			}
		}
	}

	return res, nil
}

// AnalyzeStatements analyzes a list of individual statements, such as the
// DDL the server proposes for a schema change.
func (a *Analyzer) AnalyzeStatements(source string, statements []string) (*AnalysisResult, error) {
	var b strings.Builder

	for _, s := range statements {
		s = strings.TrimSpace(s)
		b.WriteString(s)

		if !strings.HasSuffix(s, ";") {
			b.WriteByte(';')
		}

		b.WriteByte('\n')
	}

	return a.Analyze(source, b.String())
}

// AnalyzeFile analyzes the script of a migration file. The file must have
// been read with its script.
func (a *Analyzer) AnalyzeFile(f *migration.File) (*AnalysisResult, error) {
	res, err := a.Analyze(filepath.Base(f.Path), f.Text)
	if err != nil {
		return nil, err
	}

	res.File = f

	return res, nil
}

// AnalyzeAll analyzes files in order and returns one result per file.
func (a *Analyzer) AnalyzeAll(files []*migration.File) ([]AnalysisResult, error) {
	results := make([]AnalysisResult, 0, len(files))

	for _, f := range files {
		r, err := a.AnalyzeFile(f)
		if err != nil {
			return nil, fmt.Errorf("migration %s: %w", f.ID, err)
		}

		results = append(results, *r)
	}

	return results, nil
}
