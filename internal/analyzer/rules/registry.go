// Package rules holds the built-in checks run by the analyzer.
package rules

import (
	pg_query "github.com/pganalyze/pg_query_go/v6"

	"github.com/aqasim81/migration-history/internal/analyzer"
)

// NewDefaultRegistry returns a Registry with all built-in rules.
func NewDefaultRegistry() *analyzer.Registry {
	r := analyzer.NewRegistry()
	r.Register(NewCreateIndexRule())
	r.Register(NewAddColumnRule())
	r.Register(NewSetNotNullRule())
	r.Register(NewDropRule())
	r.Register(NewRenameRule())

	return r
}

// alterCmds returns the ALTER TABLE target and its subcommands of the given
// types. ok is false when stmt is not an ALTER TABLE.
func alterCmds(stmt *pg_query.RawStmt, types ...pg_query.AlterTableType) (*pg_query.RangeVar, []*pg_query.AlterTableCmd, bool) {
	node, ok := stmt.Stmt.Node.(*pg_query.Node_AlterTableStmt)
	if !ok {
		return nil, nil, false
	}

	var cmds []*pg_query.AlterTableCmd

	for _, n := range node.AlterTableStmt.Cmds {
		c, ok := n.Node.(*pg_query.Node_AlterTableCmd)
		if !ok {
			continue
		}

		for _, t := range types {
			if c.AlterTableCmd.Subtype == t {
				cmds = append(cmds, c.AlterTableCmd)
				break
			}
		}
	}

	return node.AlterTableStmt.Relation, cmds, true
}
