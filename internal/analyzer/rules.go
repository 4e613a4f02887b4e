package analyzer

import (
	pg_query "github.com/pganalyze/pg_query_go/v6"
)

// Rule inspects one parsed statement.
type Rule interface {
	// ID returns a unique kebab-case identifier.
	ID() string
	Check(stmt *pg_query.RawStmt, ctx *RuleContext) []Finding
}

// RuleContext is what a rule knows besides the statement itself.
type RuleContext struct {
	Source          string
	TargetPGVersion int
	StmtIndex       int
	SQL             string
}

// Registry holds a collection of rules.
type Registry struct {
	rules []Rule
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{}
}

// Register adds a rule to the registry.
func (r *Registry) Register(rule Rule) {
	r.rules = append(r.rules, rule)
}

// Rules returns all registered rules.
func (r *Registry) Rules() []Rule {
	return r.rules
}

// TableName renders a possibly schema-qualified relation name.
func TableName(rv *pg_query.RangeVar) string {
	if rv == nil {
		return "<unknown>"
	}

	if rv.Schemaname != "" {
		return rv.Schemaname + "." + rv.Relname
	}

	return rv.Relname
}
