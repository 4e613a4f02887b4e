package syncer

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/hashicorp/go-multierror"

	"github.com/aqasim81/migration-history/internal/database"
	"github.com/aqasim81/migration-history/internal/schema"
)

// Statements of the server's schema-diff protocol.
const (
	stmtStartPrefix    = "START MIGRATION TO {\n"
	stmtStartSuffix    = "};"
	stmtPopulate       = "POPULATE MIGRATION"
	stmtDescribe       = "DESCRIBE CURRENT MIGRATION AS JSON"
	stmtRejectProposed = "ALTER CURRENT MIGRATION REJECT PROPOSED"
	stmtAbort          = "ABORT MIGRATION"
	stmtCommit         = "COMMIT MIGRATION"
)

// ProposedStatement is one DDL statement the server proposes.
type ProposedStatement struct {
	Text string `json:"text"`
}

// Proposal is the server's next suggested step toward the target schema.
type Proposal struct {
	Statements []ProposedStatement `json:"statements"`
	Prompt     string              `json:"prompt"`
	Confidence float64             `json:"confidence"`
	DataSafe   bool                `json:"data_safe"`
}

// Texts returns the proposal's statement texts.
func (p *Proposal) Texts() []string {
	out := make([]string, len(p.Statements))
	for i, s := range p.Statements {
		out[i] = s.Text
	}

	return out
}

// Description is the server's view of the open migration block.
type Description struct {
	Confirmed []string  `json:"confirmed"`
	Complete  bool      `json:"complete"`
	Proposed  *Proposal `json:"proposed"`
}

// startStatement embeds the target schema text into START MIGRATION.
func startStatement(target *schema.Target) string {
	return stmtStartPrefix + target.Text + stmtStartSuffix
}

// block is an open migration block on a connection.
type block struct {
	conn database.Connection
}

func (b *block) describe(ctx context.Context) (*Description, error) {
	row, err := b.conn.QueryRequiredSingle(ctx, stmtDescribe)
	if err != nil {
		return nil, fmt.Errorf("describing current migration: %w", err)
	}

	if len(row) != 1 {
		return nil, fmt.Errorf("%w: DESCRIBE returned %d columns", database.ErrServerProtocol, len(row))
	}

	var raw []byte

	for _, v := range row {
		switch v := v.(type) {
		case string:
			raw = []byte(v)
		case []byte:
			raw = v
		case map[string]any:
			// json and jsonb columns arrive decoded.
			raw, err = json.Marshal(v)
			if err != nil {
				return nil, fmt.Errorf("%w: re-encoding DESCRIBE result: %w", database.ErrServerProtocol, err)
			}
		default:
			return nil, fmt.Errorf("%w: DESCRIBE returned %T", database.ErrServerProtocol, v)
		}
	}

	var d Description
	if err := json.Unmarshal(raw, &d); err != nil {
		return nil, fmt.Errorf("%w: decoding DESCRIBE result: %w", database.ErrServerProtocol, err)
	}

	return &d, nil
}

func (b *block) populate(ctx context.Context) error {
	if err := b.conn.Execute(ctx, stmtPopulate); err != nil {
		return fmt.Errorf("populating migration: %w", err)
	}

	return nil
}

// inMigration opens a migration block toward target, runs body, and closes
// the block with the statement body returns. A failing body, or a context
// cancelled during it, closes the block with ABORT MIGRATION. The close is
// attempted with a context that survives cancellation; if it fails too, both
// errors are returned, the close wrapped in CloseError.
func inMigration(
	ctx context.Context,
	conn database.Connection,
	target *schema.Target,
	body func(ctx context.Context, b *block) (closeWith string, err error),
) error {
	stmt := startStatement(target)

	if err := conn.Execute(ctx, stmt); err != nil {
		return fmt.Errorf("starting migration: %w", target.LocateServerError(err, stmt, len(stmtStartPrefix)))
	}

	closeWith, err := body(ctx, &block{conn: conn})
	if err == nil {
		err = ctx.Err()
	}

	if err != nil || closeWith == "" {
		closeWith = stmtAbort
	}

	if !conn.IsConsistent() {
		return multierror.Append(err, &CloseError{
			Statement: closeWith,
			Err:       fmt.Errorf("%w: connection is no longer usable", database.ErrConnection),
		})
	}

	if cerr := conn.Execute(context.WithoutCancel(ctx), closeWith); cerr != nil {
		return multierror.Append(err, &CloseError{Statement: closeWith, Err: cerr})
	}

	return err
}
