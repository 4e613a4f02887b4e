package tracker

import (
	"context"
	"fmt"
	"strings"

	"github.com/aqasim81/migration-history/internal/database"
	"github.com/aqasim81/migration-history/internal/migration"
)

// RecordParams contains the fields needed to record a migration as applied.
type RecordParams struct {
	Name        string
	Script      string
	ParentNames []string
	GeneratedBy migration.GeneratedBy
	DurationMs  int
}

// Tracker reads and writes the database's migration catalog.
type Tracker struct {
	conn database.Connection
}

// New creates a Tracker on the given connection.
func New(conn database.Connection) *Tracker {
	return &Tracker{conn: conn}
}

// EnsureTable creates the schema_migrations table if it does not exist.
func (t *Tracker) EnsureTable(ctx context.Context) error {
	if err := t.conn.Execute(ctx, createSchemaSQL); err != nil {
		return fmt.Errorf("%w: %w", ErrCatalogSetup, err)
	}

	return nil
}

// Exists reports whether the catalog table is present. A database that has
// never been migrated has no table.
func (t *Tracker) Exists(ctx context.Context) (bool, error) {
	row, err := t.conn.QueryRequiredSingle(ctx,
		`SELECT to_regclass($1) IS NOT NULL AS present`, tableName)
	if err != nil {
		return false, fmt.Errorf("checking for %s: %w", tableName, err)
	}

	present, err := row.Bool("present")
	if err != nil {
		return false, fmt.Errorf("checking for %s: %w", tableName, err)
	}

	return present, nil
}

// ReadAll returns every applied migration record, unordered.
func (t *Tracker) ReadAll(ctx context.Context) ([]*migration.Record, error) {
	ok, err := t.Exists(ctx)
	if err != nil || !ok {
		return nil, err
	}

	rows, err := t.conn.Query(ctx,
		`SELECT name, script, parent_names, COALESCE(generated_by, '') AS generated_by
		 FROM schema_migrations`)
	if err != nil {
		return nil, fmt.Errorf("querying applied migrations: %w", err)
	}

	records := make([]*migration.Record, 0, len(rows))

	for _, row := range rows {
		r, err := scanRecord(row)
		if err != nil {
			return nil, fmt.Errorf("scanning applied migrations: %w", err)
		}

		records = append(records, r)
	}

	return records, nil
}

func scanRecord(row database.Row) (*migration.Record, error) {
	name, err := row.String("name")
	if err != nil {
		return nil, err
	}

	script, err := row.String("script")
	if err != nil {
		return nil, err
	}

	parents, err := row.Strings("parent_names")
	if err != nil {
		return nil, err
	}

	generatedBy, err := row.String("generated_by")
	if err != nil {
		return nil, err
	}

	return &migration.Record{
		Name:        name,
		Script:      script,
		ParentNames: parents,
		GeneratedBy: migration.GeneratedBy(generatedBy),
	}, nil
}

// History returns the applied migrations parent-first.
func (t *Tracker) History(ctx context.Context) (*migration.Ordered[*migration.Record], error) {
	records, err := t.ReadAll(ctx)
	if err != nil {
		return nil, err
	}

	seq, err := migration.LinearizeRecords(records)
	if err != nil {
		return nil, fmt.Errorf("reading database history: %w", err)
	}

	return seq, nil
}

// CurrentHead returns the migration no other migration descends from.
// ok is false for a database without migrations.
func (t *Tracker) CurrentHead(ctx context.Context) (head string, ok bool, err error) {
	present, err := t.Exists(ctx)
	if err != nil || !present {
		return "", false, err
	}

	rows, err := t.conn.Query(ctx, headSQL)
	if err != nil {
		return "", false, fmt.Errorf("querying current head: %w", err)
	}

	switch len(rows) {
	case 0:
		return "", false, nil
	case 1:
		head, err = rows[0].String("name")
		if err != nil {
			return "", false, fmt.Errorf("querying current head: %w", err)
		}

		return head, true, nil
	default:
		names := make([]string, 0, len(rows))
		for _, r := range rows {
			n, _ := r.String("name")
			names = append(names, n)
		}

		return "", false, fmt.Errorf("%w: database has several heads: %s",
			migration.ErrValidation, strings.Join(names, ", "))
	}
}

// IsApplied checks whether a migration has been applied.
func (t *Tracker) IsApplied(ctx context.Context, name string) (bool, error) {
	row, err := t.conn.QueryRequiredSingle(ctx,
		`SELECT EXISTS(SELECT 1 FROM schema_migrations WHERE name = $1) AS applied`,
		name,
	)
	if err != nil {
		return false, fmt.Errorf("checking if migration %s is applied: %w", name, err)
	}

	applied, err := row.Bool("applied")
	if err != nil {
		return false, fmt.Errorf("checking if migration %s is applied: %w", name, err)
	}

	return applied, nil
}

// RecordApplied inserts a migration record.
func (t *Tracker) RecordApplied(ctx context.Context, p RecordParams) error {
	parents := p.ParentNames
	if parents == nil {
		parents = []string{}
	}

	var generatedBy any
	if p.GeneratedBy != "" {
		generatedBy = string(p.GeneratedBy)
	}

	err := t.conn.Execute(ctx,
		`INSERT INTO schema_migrations (name, script, parent_names, generated_by, duration_ms)
		 VALUES ($1, $2, $3, $4, $5)`,
		p.Name, p.Script, parents, generatedBy, p.DurationMs,
	)
	if err != nil {
		return fmt.Errorf("recording migration %s as applied: %w", p.Name, err)
	}

	return nil
}
