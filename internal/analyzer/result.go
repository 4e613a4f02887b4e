package analyzer

import "github.com/aqasim81/migration-history/internal/migration"

// Finding is a single risky pattern found in a statement.
type Finding struct {
	Rule       string // rule id, e.g. "create-index-blocking"
	Severity   Severity
	Table      string
	Statement  string
	Message    string
	Suggestion string
	LockType   string // lock the statement takes, e.g. "ACCESS EXCLUSIVE"
	StmtIndex  int    // 0-based
}

// AnalysisResult holds the findings for one piece of SQL.
type AnalysisResult struct {
	Source      string
	File        *migration.File // nil unless produced by AnalyzeFile
	Findings    []Finding
	MaxSeverity Severity
}

func (r *AnalysisResult) add(f Finding) {
	if f.Severity > r.MaxSeverity {
		r.MaxSeverity = f.Severity
	}

	r.Findings = append(r.Findings, f)
}

// HasHighOrCritical reports whether any finding is High or Critical.
func (r *AnalysisResult) HasHighOrCritical() bool {
	return r.MaxSeverity >= High
}

// TruncateSQL shortens sql to at most maxLen bytes for display.
func TruncateSQL(sql string, maxLen int) string {
	if len(sql) <= maxLen || maxLen < 4 { //nolint:mnd // room for "..."
		return sql
	}

	return sql[:maxLen-3] + "..."
}
