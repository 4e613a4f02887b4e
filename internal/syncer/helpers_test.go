package syncer_test

import (
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/aqasim81/migration-history/internal/database"
	"github.com/aqasim81/migration-history/internal/database/databasetest"
	"github.com/aqasim81/migration-history/internal/migration"
	"github.com/aqasim81/migration-history/internal/schema"
	"github.com/aqasim81/migration-history/internal/sourcemap"
	"github.com/aqasim81/migration-history/internal/syncer"
)

type fakeHistory struct {
	head string
	err  error
}

func (h *fakeHistory) CurrentHead(context.Context) (string, bool, error) {
	return h.head, h.head != "", h.err
}

type fakeApplier struct {
	applied []*migration.File
	err     error
}

func (a *fakeApplier) Apply(_ context.Context, files []*migration.File) error {
	if a.err != nil {
		return a.err
	}

	a.applied = append(a.applied, files...)

	return nil
}

func testTarget(t *testing.T) *schema.Target {
	t.Helper()

	text, m := sourcemap.NewBuilder[string]().
		AddLines("dbschema/default.sql", "CREATE TABLE users (id INT);").
		Done()

	return &schema.Target{Text: text, Map: m}
}

// writeMigrations writes a chain of migrations and returns their ids.
func writeMigrations(t *testing.T, dir string, scripts ...string) []string {
	t.Helper()

	var (
		parent string
		ids    []string
	)

	for i, s := range scripts {
		f, err := migration.Write(dir, migration.Draft{
			Key:        migration.Index(uint64(i + 1)),
			Parent:     parent,
			Statements: []string{s},
		})
		require.NoError(t, err)

		ids = append(ids, f.ID)
		parent = f.ID
	}

	return ids
}

// describeRow encodes a DESCRIBE CURRENT MIGRATION AS JSON answer.
func describeRow(t *testing.T, d syncer.Description) database.Row {
	t.Helper()

	raw, err := json.Marshal(d)
	require.NoError(t, err)

	return database.Row{"migration": string(raw)}
}

func onDescribe(t *testing.T, conn *databasetest.Conn, d syncer.Description) {
	t.Helper()

	conn.OnRows("DESCRIBE CURRENT MIGRATION", describeRow(t, d))
}

// protocol returns the statements that belong to the migration protocol,
// with START MIGRATION shortened to its keyword.
func protocol(stmts []string) []string {
	var out []string

	for _, s := range stmts {
		switch {
		case strings.HasPrefix(s, "START MIGRATION TO"):
			out = append(out, "START MIGRATION")
		case strings.HasPrefix(s, "POPULATE"),
			strings.HasPrefix(s, "DESCRIBE"),
			strings.HasPrefix(s, "ABORT"),
			strings.HasPrefix(s, "COMMIT"),
			strings.HasPrefix(s, "ALTER CURRENT MIGRATION"):
			out = append(out, s)
		}
	}

	return out
}

func newEngine(conn database.Connection, dir string, h *fakeHistory, a *fakeApplier) *syncer.Engine {
	return syncer.New(conn, dir, syncer.WithHistory(h), syncer.WithApplier(a))
}

// lockedConn is a scripted connection on which the migration lock is free.
func lockedConn() *databasetest.Conn {
	return databasetest.New().OnRows("SELECT pg_try_advisory_lock", database.Row{"acquired": true})
}

func firstIndex(stmts []string, prefix string) int {
	for i, s := range stmts {
		if strings.HasPrefix(s, prefix) {
			return i
		}
	}

	return -1
}

func lastIndex(stmts []string, prefix string) int {
	for i := len(stmts) - 1; i >= 0; i-- {
		if strings.HasPrefix(stmts[i], prefix) {
			return i
		}
	}

	return -1
}
