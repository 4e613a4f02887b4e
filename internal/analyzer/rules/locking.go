package rules

import (
	pg_query "github.com/pganalyze/pg_query_go/v6"

	"github.com/aqasim81/migration-history/internal/analyzer"
)

const (
	pgVersionFastDefault    = 11
	pgVersionCheckedNotNull = 12
	lockAccessExclusive     = "ACCESS EXCLUSIVE"
	lockShare               = "SHARE"
)

// CreateIndexRule flags CREATE INDEX without CONCURRENTLY.
type CreateIndexRule struct{}

// NewCreateIndexRule creates a new CreateIndexRule.
func NewCreateIndexRule() *CreateIndexRule { return &CreateIndexRule{} }

// ID returns the rule identifier.
func (r *CreateIndexRule) ID() string { return "create-index-blocking" }

// Check reports a blocking index build.
func (r *CreateIndexRule) Check(stmt *pg_query.RawStmt, ctx *analyzer.RuleContext) []analyzer.Finding {
	node, ok := stmt.Stmt.Node.(*pg_query.Node_IndexStmt)
	if !ok || node.IndexStmt.Concurrent {
		return nil
	}

	return []analyzer.Finding{{
		Rule:       r.ID(),
		Severity:   analyzer.High,
		Table:      analyzer.TableName(node.IndexStmt.Relation),
		Message:    "index build blocks writes to the table until it finishes",
		Suggestion: "build the index with CREATE INDEX CONCURRENTLY in its own migration",
		LockType:   lockShare,
		StmtIndex:  ctx.StmtIndex,
	}}
}

// AddColumnRule flags ADD COLUMN with a default that forces a table rewrite.
type AddColumnRule struct{}

// NewAddColumnRule creates a new AddColumnRule.
func NewAddColumnRule() *AddColumnRule { return &AddColumnRule{} }

// ID returns the rule identifier.
func (r *AddColumnRule) ID() string { return "add-column-rewrite" }

// Check reports columns whose DEFAULT rewrites the table on the target version.
func (r *AddColumnRule) Check(stmt *pg_query.RawStmt, ctx *analyzer.RuleContext) []analyzer.Finding {
	rel, cmds, ok := alterCmds(stmt, pg_query.AlterTableType_AT_AddColumn)
	if !ok {
		return nil
	}

	var findings []analyzer.Finding

	for _, cmd := range cmds {
		def := columnDefault(cmd)
		if def == nil {
			continue
		}

		msg := "column default is volatile, every existing row is rewritten"
		if ctx.TargetPGVersion < pgVersionFastDefault {
			msg = "column default rewrites every existing row before PostgreSQL 11"
		} else if !volatile(def) {
			continue
		}

		findings = append(findings, analyzer.Finding{
			Rule:       r.ID(),
			Severity:   analyzer.High,
			Table:      analyzer.TableName(rel),
			Message:    msg,
			Suggestion: "add the column without a default, then backfill in batches",
			LockType:   lockAccessExclusive,
			StmtIndex:  ctx.StmtIndex,
		})
	}

	return findings
}

// columnDefault returns the DEFAULT expression of an ADD COLUMN, if any.
func columnDefault(cmd *pg_query.AlterTableCmd) *pg_query.Node {
	if cmd.Def == nil {
		return nil
	}

	col, ok := cmd.Def.Node.(*pg_query.Node_ColumnDef)
	if !ok {
		return nil
	}

	for _, c := range col.ColumnDef.Constraints {
		cn, ok := c.Node.(*pg_query.Node_Constraint)
		if ok && cn.Constraint.Contype == pg_query.ConstrType_CONSTR_DEFAULT {
			return cn.Constraint.RawExpr
		}
	}

	return nil
}

// volatile treats anything but a constant, or a cast of one, as volatile.
func volatile(n *pg_query.Node) bool {
	switch v := n.Node.(type) {
	case *pg_query.Node_AConst:
		return false
	case *pg_query.Node_TypeCast:
		if v.TypeCast.Arg == nil {
			return true
		}

		_, isConst := v.TypeCast.Arg.Node.(*pg_query.Node_AConst)

		return !isConst
	default:
		return true
	}
}

// SetNotNullRule flags SET NOT NULL, which scans the whole table.
type SetNotNullRule struct{}

// NewSetNotNullRule creates a new SetNotNullRule.
func NewSetNotNullRule() *SetNotNullRule { return &SetNotNullRule{} }

// ID returns the rule identifier.
func (r *SetNotNullRule) ID() string { return "set-not-null" }

// Check reports each SET NOT NULL subcommand.
func (r *SetNotNullRule) Check(stmt *pg_query.RawStmt, ctx *analyzer.RuleContext) []analyzer.Finding {
	rel, cmds, ok := alterCmds(stmt, pg_query.AlterTableType_AT_SetNotNull)
	if !ok {
		return nil
	}

	severity, suggestion := analyzer.High, "enforce the constraint in the application until the table can be locked"
	if ctx.TargetPGVersion >= pgVersionCheckedNotNull {
		severity = analyzer.Medium
		suggestion = "add CHECK (col IS NOT NULL) NOT VALID, validate it, then SET NOT NULL"
	}

	findings := make([]analyzer.Finding, 0, len(cmds))

	for _, cmd := range cmds {
		findings = append(findings, analyzer.Finding{
			Rule:       r.ID(),
			Severity:   severity,
			Table:      analyzer.TableName(rel),
			Message:    "SET NOT NULL on " + cmd.Name + " scans the table under an exclusive lock",
			Suggestion: suggestion,
			LockType:   lockAccessExclusive,
			StmtIndex:  ctx.StmtIndex,
		})
	}

	return findings
}
