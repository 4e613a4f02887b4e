package cli

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aqasim81/migration-history/internal/database/databasetest"
	"github.com/aqasim81/migration-history/internal/migration"
	"github.com/aqasim81/migration-history/internal/status"
)

// A schema change travels from the schema directory through a new
// migration into the database, with status reporting each step.
func TestWorkflow_schemaChange_createApplyStatus(t *testing.T) { // not parallel: mutates global AppConfig
	p := setupTestConfig(t)
	srv := databasetest.NewServer()
	useServer(t, srv)

	const users = "CREATE TABLE users (id int)"
	const posts = "CREATE TABLE posts (id int)"

	p.writeSchema(t, users+";\n")
	first := p.writeMigration(t, users)

	statusCode := func() (int, string) {
		cmd, buf := newTestCmd(t, runStatus, statusFlags)
		return runCmd(t, cmd), buf.String()
	}

	migrate := func() {
		cmd, buf := newTestCmd(t, runMigrate, migrateFlags)
		require.Equal(t, 0, runCmd(t, cmd), buf.String())
	}

	code, out := statusCode()
	assert.Equal(t, status.ExitNotApplied, code)
	assert.Contains(t, out, "Database is empty")

	migrate()

	code, out = statusCode()
	assert.Equal(t, status.ExitUpToDate, code, out)
	assert.Contains(t, out, "Last migration: "+first.ID)

	p.writeSchema(t, users+";\n"+posts+";\n")

	code, out = statusCode()
	assert.Equal(t, status.ExitSchemaChanged, code)
	assert.Contains(t, out, posts)

	create, buf := newTestCmd(t, runCreate, createFlags)
	require.Equal(t, 0, runCmd(t, create, "--non-interactive"), buf.String())

	seq, err := migration.ReadAll(p.migrations, true)
	require.NoError(t, err)
	require.Equal(t, 2, seq.Len())

	id, second := seq.At(1)
	assert.Equal(t, first.ID, second.ParentID)
	assert.Equal(t, migration.ComputeID(first.ID, posts+";"), id)
	assert.Contains(t, buf.String(), id)

	code, _ = statusCode()
	assert.Equal(t, status.ExitNotApplied, code)

	migrate()

	code, out = statusCode()
	assert.Equal(t, status.ExitUpToDate, code, out)
	assert.Contains(t, out, id)

	create, buf = newTestCmd(t, runCreate, createFlags)
	assert.Equal(t, exitNoChanges, runCmd(t, create, "--non-interactive"))
	assert.Contains(t, buf.String(), "no schema changes detected")

	assert.Equal(t, []string{users, posts}, srv.DDL())
	assert.False(t, srv.InBlock())
}

func TestWorkflow_devMode_commitsInferredDDL(t *testing.T) { // not parallel: mutates global AppConfig
	p := setupTestConfig(t)
	srv := databasetest.NewServer()
	useServer(t, srv)

	p.writeSchema(t, "CREATE TABLE users (id int);\nCREATE TABLE posts (id int);\n")
	p.writeMigration(t, "CREATE TABLE users (id int)")

	cmd, buf := newTestCmd(t, runMigrate, migrateFlags)
	require.Equal(t, 0, runCmd(t, cmd, "--dev-mode"), buf.String())

	assert.Contains(t, buf.String(), "Committed 1 inferred statement(s)")
	assert.Equal(t, []string{"CREATE TABLE users (id int)", "CREATE TABLE posts (id int)"}, srv.DDL())

	records := srv.Records()
	require.Len(t, records, 2)
	assert.Equal(t, migration.GeneratedByDevMode, records[1].GeneratedBy)

	// A second run has nothing left to infer.
	cmd, buf = newTestCmd(t, runMigrate, migrateFlags)
	require.Equal(t, 0, runCmd(t, cmd, "--dev-mode"), buf.String())
	assert.Contains(t, buf.String(), "in sync")
	assert.Len(t, srv.Records(), 2)
}

func TestWorkflow_editedMigration_fixupRestoresHistory(t *testing.T) { // not parallel: mutates global AppConfig
	p := setupTestConfig(t)
	srv := databasetest.NewServer()
	useServer(t, srv)

	f := p.writeMigration(t, "CREATE TABLE users (id int)")

	data, err := os.ReadFile(f.Path)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(f.Path, []byte(string(data)+"CREATE TABLE audit (id int);\n"), 0o600))

	cmd, buf := newTestCmd(t, runMigrate, migrateFlags)
	assert.Equal(t, exitFailure, runCmd(t, cmd))
	assert.Contains(t, buf.String(), "fixup")

	cmd, buf = newTestCmd(t, runFixup, nil)
	require.Equal(t, 0, runCmd(t, cmd), buf.String())
	assert.Contains(t, buf.String(), "Renamed "+f.ID)

	entries, err := os.ReadDir(p.migrations)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.NotEqual(t, filepath.Base(f.Path), entries[0].Name())

	cmd, buf = newTestCmd(t, runMigrate, migrateFlags)
	require.Equal(t, 0, runCmd(t, cmd), buf.String())
	assert.Len(t, srv.Records(), 1)
}
