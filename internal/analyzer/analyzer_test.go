package analyzer_test

import (
	"testing"

	pg_query "github.com/pganalyze/pg_query_go/v6"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aqasim81/migration-history/internal/analyzer"
	"github.com/aqasim81/migration-history/internal/migration"
	"github.com/aqasim81/migration-history/internal/parser"
)

// stubRule reports every statement it sees.
type stubRule struct{}

func (r *stubRule) ID() string { return "test-stub" }

func (r *stubRule) Check(_ *pg_query.RawStmt, ctx *analyzer.RuleContext) []analyzer.Finding {
	return []analyzer.Finding{{
		Rule:      r.ID(),
		Severity:  analyzer.High,
		Message:   "stub finding",
		StmtIndex: ctx.StmtIndex,
	}}
}

// contextRule captures the context of the last statement it saw.
type contextRule struct {
	seen *analyzer.RuleContext
}

func (r *contextRule) ID() string { return "context-capture" }

func (r *contextRule) Check(_ *pg_query.RawStmt, ctx *analyzer.RuleContext) []analyzer.Finding {
	r.seen = ctx
	return nil
}

func stubAnalyzer() *analyzer.Analyzer {
	registry := analyzer.NewRegistry()
	registry.Register(&stubRule{})

	return analyzer.New(analyzer.WithRegistry(registry))
}

func TestAnalyze_noRules_noFindings(t *testing.T) {
	t.Parallel()

	result, err := analyzer.New().Analyze("schema", "CREATE TABLE users (id BIGSERIAL PRIMARY KEY);")
	require.NoError(t, err)
	assert.Empty(t, result.Findings)
	assert.Equal(t, analyzer.Safe, result.MaxSeverity)
	assert.Equal(t, "schema", result.Source)
}

func TestAnalyze_multiStatement_runsRulesOnEach(t *testing.T) {
	t.Parallel()

	result, err := stubAnalyzer().Analyze("x", "CREATE TABLE a (id INT); CREATE TABLE b (id INT);")
	require.NoError(t, err)
	require.Len(t, result.Findings, 2)
	assert.Equal(t, 0, result.Findings[0].StmtIndex)
	assert.Equal(t, 1, result.Findings[1].StmtIndex)
	assert.Equal(t, "CREATE TABLE a (id INT)", result.Findings[0].Statement)
	assert.Equal(t, "CREATE TABLE b (id INT)", result.Findings[1].Statement)
	assert.Equal(t, analyzer.High, result.MaxSeverity)
}

func TestAnalyze_invalidSQL_returnsSyntaxError(t *testing.T) {
	t.Parallel()

	_, err := analyzer.New().Analyze("00001-m1abc.sql", "NOT VALID SQL AT ALL;;;")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "parsing 00001-m1abc.sql")

	var se *parser.SyntaxError
	require.ErrorAs(t, err, &se)
}

func TestAnalyze_empty_noFindings(t *testing.T) {
	t.Parallel()

	result, err := stubAnalyzer().Analyze("x", "   ")
	require.NoError(t, err)
	assert.Empty(t, result.Findings)
}

func TestAnalyzeStatements_terminatesEachStatement(t *testing.T) {
	t.Parallel()

	result, err := stubAnalyzer().AnalyzeStatements("proposed", []string{
		"CREATE TABLE a (id INT)",
		"CREATE INDEX a_id ON a (id);",
	})
	require.NoError(t, err)
	require.Len(t, result.Findings, 2)
	assert.Equal(t, "CREATE INDEX a_id ON a (id)", result.Findings[1].Statement)
}

func TestAnalyzeFile_namesSourceByFile(t *testing.T) {
	t.Parallel()

	f := &migration.File{
		Path: "/tmp/migrations/00001-m1abc.sql",
		ID:   "m1abc",
		Text: "CREATE TABLE a (id INT);",
	}

	result, err := stubAnalyzer().AnalyzeFile(f)
	require.NoError(t, err)
	assert.Equal(t, "00001-m1abc.sql", result.Source)
	assert.Same(t, f, result.File)
	assert.Len(t, result.Findings, 1)
}

func TestAnalyzeAll_errorInOne_namesMigration(t *testing.T) {
	t.Parallel()

	files := []*migration.File{
		{Path: "00001-m1good.sql", ID: "m1good", Text: "CREATE TABLE a (id INT);"},
		{Path: "00002-m1bad.sql", ID: "m1bad", Text: "INVALID SQL;;;"},
	}

	_, err := analyzer.New().AnalyzeAll(files)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "migration m1bad")
}

func TestAnalyzeAll_resultPerFile(t *testing.T) {
	t.Parallel()

	files := []*migration.File{
		{Path: "00001-m1a.sql", ID: "m1a", Text: "CREATE TABLE a (id INT);"},
		{Path: "00002-m1b.sql", ID: "m1b", Text: "CREATE TABLE b (id INT);"},
	}

	results, err := analyzer.New().AnalyzeAll(files)
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Same(t, files[1], results[1].File)
}

func TestOptions_reachRuleContext(t *testing.T) {
	t.Parallel()

	rule := &contextRule{}
	registry := analyzer.NewRegistry()
	registry.Register(rule)

	parsed := false
	a := analyzer.New(
		analyzer.WithRegistry(registry),
		analyzer.WithPGVersion(10), //nolint:mnd // test value
		analyzer.WithParser(func(sql string) (*parser.ParseResult, error) {
			parsed = true
			return parser.Parse(sql)
		}),
	)

	_, err := a.Analyze("schema", "CREATE TABLE a (id INT);")
	require.NoError(t, err)
	assert.True(t, parsed)
	require.NotNil(t, rule.seen)
	assert.Equal(t, 10, rule.seen.TargetPGVersion)
	assert.Equal(t, "schema", rule.seen.Source)
}
