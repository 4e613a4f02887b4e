package cli

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aqasim81/migration-history/internal/analyzer"
)

func TestCountMigrationsWithFindings(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		results  []analyzer.AnalysisResult
		expected int
	}{
		{
			name:     "empty results",
			results:  nil,
			expected: 0,
		},
		{
			name: "no findings",
			results: []analyzer.AnalysisResult{
				{Source: "00001-m1aaaaaaaa.sql", Findings: nil},
			},
			expected: 0,
		},
		{
			name: "one with findings",
			results: []analyzer.AnalysisResult{
				{Source: "00001-m1aaaaaaaa.sql", Findings: nil},
				{Source: "00002-m1bbbbbbbb.sql", Findings: []analyzer.Finding{{Rule: "test"}}},
			},
			expected: 1,
		},
		{
			name: "all with findings",
			results: []analyzer.AnalysisResult{
				{Source: "00001-m1aaaaaaaa.sql", Findings: []analyzer.Finding{{Rule: "a"}}},
				{Source: "00002-m1bbbbbbbb.sql", Findings: []analyzer.Finding{{Rule: "b"}}},
			},
			expected: 2,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.expected, countMigrationsWithFindings(tt.results))
		})
	}
}

func TestPrintAnalysisResults_noFindings_printsNoDangers(t *testing.T) {
	t.Parallel()

	buf := new(bytes.Buffer)
	cmd := &cobra.Command{}
	cmd.SetOut(buf)

	results := []analyzer.AnalysisResult{
		{Source: "00001-m1aaaaaaaa.sql", Findings: nil},
	}

	hasHigh := printAnalysisResults(cmd, results)
	assert.False(t, hasHigh)
	assert.Contains(t, buf.String(), "No dangerous operations detected.")
}

func TestPrintAnalysisResults_withFindings_formatsOutput(t *testing.T) {
	t.Parallel()

	buf := new(bytes.Buffer)
	cmd := &cobra.Command{}
	cmd.SetOut(buf)

	results := []analyzer.AnalysisResult{
		{
			Source:      "00002-m1bbbbbbbb.sql",
			MaxSeverity: analyzer.High,
			Findings: []analyzer.Finding{
				{
					Rule:       "create-index-blocking",
					Severity:   analyzer.High,
					Table:      "users",
					Statement:  "CREATE INDEX idx ON users (email)",
					Message:    "Index creation blocks writes",
					Suggestion: "Use CREATE INDEX CONCURRENTLY",
				},
			},
		},
	}

	hasHigh := printAnalysisResults(cmd, results)
	assert.True(t, hasHigh)

	output := buf.String()
	assert.Contains(t, output, "=== 00002-m1bbbbbbbb.sql ===")
	assert.Contains(t, output, "[HIGH]")
	assert.Contains(t, output, "Table: users")
	assert.Contains(t, output, "Rule:  create-index-blocking")
	assert.Contains(t, output, "SQL:   CREATE INDEX idx ON users (email)")
	assert.Contains(t, output, "Fix:   Use CREATE INDEX CONCURRENTLY")
	assert.Contains(t, output, "Found 1 finding(s) across 1 migration(s).")
}

func TestPrintAnalysisResults_lowSeverityOnly_returnsFalse(t *testing.T) {
	t.Parallel()

	buf := new(bytes.Buffer)
	cmd := &cobra.Command{}
	cmd.SetOut(buf)

	results := []analyzer.AnalysisResult{
		{
			Source:      "00001-m1aaaaaaaa.sql",
			MaxSeverity: analyzer.Low,
			Findings: []analyzer.Finding{
				{Rule: "test-rule", Severity: analyzer.Low, Message: "minor concern"},
			},
		},
	}

	hasHigh := printAnalysisResults(cmd, results)
	assert.False(t, hasHigh)
	assert.Contains(t, buf.String(), "Found 1 finding(s)")
}

func TestPrintAnalysisResults_noStatementOrTable_skipsLines(t *testing.T) {
	t.Parallel()

	buf := new(bytes.Buffer)
	cmd := &cobra.Command{}
	cmd.SetOut(buf)

	results := []analyzer.AnalysisResult{
		{
			Source:      "00001-m1aaaaaaaa.sql",
			MaxSeverity: analyzer.Medium,
			Findings: []analyzer.Finding{
				{Rule: "test-rule", Severity: analyzer.Medium, Message: "test"},
			},
		},
	}

	printAnalysisResults(cmd, results)
	assert.NotContains(t, buf.String(), "SQL:")
	assert.NotContains(t, buf.String(), "Table:")
}

func TestRunAnalyze_withMigrations_producesOutput(t *testing.T) { // not parallel: mutates global AppConfig
	p := setupTestConfig(t)
	p.writeMigration(t, "CREATE TABLE users (id int, email text)")
	p.writeMigration(t, "CREATE INDEX idx_users_email ON users (email)")

	cmd, buf := newTestCmd(t, runAnalyze, analyzeFlags)

	require.Equal(t, 0, runCmd(t, cmd))
	assert.Contains(t, buf.String(), "Found 1 finding(s) across 1 migration(s).")
	assert.Contains(t, buf.String(), "create-index-blocking")
}

func TestRunAnalyze_emptyDir_printsNoMigrations(t *testing.T) { // not parallel: mutates global AppConfig
	setupTestConfig(t)

	cmd, buf := newTestCmd(t, runAnalyze, analyzeFlags)

	require.Equal(t, 0, runCmd(t, cmd, t.TempDir()))
	assert.Contains(t, buf.String(), "No migration files found.")
}

func TestRunAnalyze_modifiedMigration_returnsError(t *testing.T) { // not parallel: mutates global AppConfig
	p := setupTestConfig(t)
	f := p.writeMigration(t, "CREATE TABLE users (id int)")
	require.NoError(t, os.WriteFile(f.Path, []byte("-- id: "+f.ID+"\n-- parent: initial\n\nDROP TABLE users;\n"), 0o600))

	cmd, _ := newTestCmd(t, runAnalyze, analyzeFlags)
	cmd.SetArgs([]string{})

	err := cmd.Execute()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "loading migrations")
}

func TestRunAnalyze_failOnHigh_returnsError(t *testing.T) { // not parallel: mutates global AppConfig
	p := setupTestConfig(t)
	p.writeMigration(t, "DROP TABLE users")

	cmd, _ := newTestCmd(t, runAnalyze, analyzeFlags)
	cmd.SetArgs([]string{"--fail-on-high"})

	err := cmd.Execute()
	require.Error(t, err)
	assert.ErrorIs(t, err, errHighSeverityFindings)
}

func TestRunAnalyze_jsonFormat_writesFindings(t *testing.T) { // not parallel: mutates global AppConfig
	p := setupTestConfig(t)
	f := p.writeMigration(t, "ALTER TABLE users RENAME TO accounts")

	cmd, buf := newTestCmd(t, runAnalyze, analyzeFlags)
	require.Equal(t, 0, runCmd(t, cmd, "--format", "json", p.migrations))

	var findings []jsonFinding
	require.NoError(t, json.Unmarshal(buf.Bytes(), &findings))
	require.Len(t, findings, 1)
	assert.Equal(t, filepath.Base(f.Path), findings[0].Migration)
	assert.Equal(t, "rename", findings[0].Rule)
	assert.Equal(t, "MEDIUM", findings[0].Severity)
}

func TestRunAnalyze_unknownFormat_returnsError(t *testing.T) { // not parallel: mutates global AppConfig
	setupTestConfig(t)

	cmd, _ := newTestCmd(t, runAnalyze, analyzeFlags)
	cmd.SetArgs([]string{"--format", "xml"})

	err := cmd.Execute()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown output format")
}
