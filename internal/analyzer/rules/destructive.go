package rules

import (
	"strings"

	pg_query "github.com/pganalyze/pg_query_go/v6"

	"github.com/aqasim81/migration-history/internal/analyzer"
)

// DropRule flags statements that destroy stored data: DROP TABLE, TRUNCATE
// and ALTER TABLE ... DROP COLUMN.
type DropRule struct{}

// NewDropRule creates a new DropRule.
func NewDropRule() *DropRule { return &DropRule{} }

// ID returns the rule identifier.
func (r *DropRule) ID() string { return "drop-data" }

// Check reports data-destroying statements.
func (r *DropRule) Check(stmt *pg_query.RawStmt, ctx *analyzer.RuleContext) []analyzer.Finding {
	finding := func(table, msg string) analyzer.Finding {
		return analyzer.Finding{
			Rule:       r.ID(),
			Severity:   analyzer.Critical,
			Table:      table,
			Message:    msg,
			Suggestion: "take a backup and make sure nothing still reads this data",
			LockType:   lockAccessExclusive,
			StmtIndex:  ctx.StmtIndex,
		}
	}

	switch node := stmt.Stmt.Node.(type) {
	case *pg_query.Node_DropStmt:
		if node.DropStmt.RemoveType != pg_query.ObjectType_OBJECT_TABLE {
			return nil
		}

		return []analyzer.Finding{finding(dropNames(node.DropStmt), "DROP TABLE permanently deletes the table and its rows")}
	case *pg_query.Node_TruncateStmt:
		var tables []string

		for _, rel := range node.TruncateStmt.Relations {
			if rv, ok := rel.Node.(*pg_query.Node_RangeVar); ok {
				tables = append(tables, analyzer.TableName(rv.RangeVar))
			}
		}

		return []analyzer.Finding{finding(strings.Join(tables, ", "), "TRUNCATE deletes every row of the table")}
	}

	rel, cmds, ok := alterCmds(stmt, pg_query.AlterTableType_AT_DropColumn)
	if !ok {
		return nil
	}

	findings := make([]analyzer.Finding, 0, len(cmds))
	for _, cmd := range cmds {
		findings = append(findings, finding(analyzer.TableName(rel), "DROP COLUMN "+cmd.Name+" deletes the column's data"))
	}

	return findings
}

// dropNames joins the dotted names of every object in a DROP statement.
func dropNames(drop *pg_query.DropStmt) string {
	var names []string

	for _, obj := range drop.Objects {
		list, ok := obj.Node.(*pg_query.Node_List)
		if !ok {
			continue
		}

		var parts []string

		for _, item := range list.List.Items {
			if s, ok := item.Node.(*pg_query.Node_String_); ok {
				parts = append(parts, s.String_.Sval)
			}
		}

		names = append(names, strings.Join(parts, "."))
	}

	return strings.Join(names, ", ")
}

// RenameRule flags table and column renames, which break running clients.
type RenameRule struct{}

// NewRenameRule creates a new RenameRule.
func NewRenameRule() *RenameRule { return &RenameRule{} }

// ID returns the rule identifier.
func (r *RenameRule) ID() string { return "rename" }

// Check reports RENAME of a table or column.
func (r *RenameRule) Check(stmt *pg_query.RawStmt, ctx *analyzer.RuleContext) []analyzer.Finding {
	node, ok := stmt.Stmt.Node.(*pg_query.Node_RenameStmt)
	if !ok {
		return nil
	}

	var what string

	switch node.RenameStmt.RenameType {
	case pg_query.ObjectType_OBJECT_TABLE:
		what = "table"
	case pg_query.ObjectType_OBJECT_COLUMN:
		what = "column"
	default:
		return nil
	}

	return []analyzer.Finding{{
		Rule:       r.ID(),
		Severity:   analyzer.Medium,
		Table:      analyzer.TableName(node.RenameStmt.Relation),
		Message:    "renaming a " + what + " breaks clients that still use the old name",
		Suggestion: "expose both names for a release before dropping the old one",
		LockType:   lockAccessExclusive,
		StmtIndex:  ctx.StmtIndex,
	}}
}
