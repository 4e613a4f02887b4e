package syncer_test

import (
	"context"
	"errors"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aqasim81/migration-history/internal/database"
	"github.com/aqasim81/migration-history/internal/database/databasetest"
	"github.com/aqasim81/migration-history/internal/migration"
	"github.com/aqasim81/migration-history/internal/syncer"
)

type scriptedPrompter struct {
	answers []syncer.Decision
	seen    []*syncer.Proposal
}

func (p *scriptedPrompter) Confirm(_ context.Context, proposal *syncer.Proposal) (syncer.Decision, error) {
	p.seen = append(p.seen, proposal)

	if len(p.answers) == 0 {
		return syncer.Quit, nil
	}

	d := p.answers[0]
	p.answers = p.answers[1:]

	return d, nil
}

func TestCreateMigration_nonInteractive_writesChild(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	ids := writeMigrations(t, dir, "CREATE TABLE users (id INT)")

	conn := databasetest.New()
	onDescribe(t, conn, syncer.Description{Complete: true, Confirmed: []string{"ALTER TABLE users ADD COLUMN name TEXT"}})

	result, err := newEngine(conn, dir, &fakeHistory{head: ids[0]}, &fakeApplier{}).
		CreateMigration(context.Background(), testTarget(t), syncer.CreateOptions{NonInteractive: true})
	require.NoError(t, err)

	assert.Equal(t, ids[0], result.File.ParentID)
	assert.Equal(t, uint64(2), result.File.Index)
	assert.Equal(t, "ALTER TABLE users ADD COLUMN name TEXT;", result.File.Text)
	assert.Equal(t, []string{
		"START MIGRATION",
		"POPULATE MIGRATION",
		"DESCRIBE CURRENT MIGRATION AS JSON",
		"ABORT MIGRATION",
	}, protocol(conn.Statements()))

	seq, err := migration.ReadAll(dir, true)
	require.NoError(t, err)
	assert.Equal(t, []string{ids[0], result.File.ID}, seq.Keys())
}

func TestCreateMigration_notUpToDate(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	writeMigrations(t, dir, "SELECT 1")

	conn := databasetest.New()

	_, err := newEngine(conn, dir, &fakeHistory{}, &fakeApplier{}).
		CreateMigration(context.Background(), testTarget(t), syncer.CreateOptions{NonInteractive: true})

	require.ErrorIs(t, err, syncer.ErrNotUpToDate)
	assert.Empty(t, conn.Statements())
}

func TestCreateMigration_noChanges(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		allowEmpty bool
		wantErr    error
	}{
		{name: "rejected by default", wantErr: syncer.ErrNoChanges},
		{name: "written with allow-empty", allowEmpty: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			dir := t.TempDir()

			conn := databasetest.New()
			onDescribe(t, conn, syncer.Description{Complete: true})

			result, err := newEngine(conn, dir, &fakeHistory{}, &fakeApplier{}).
				CreateMigration(context.Background(), testTarget(t),
					syncer.CreateOptions{NonInteractive: true, AllowEmpty: tt.allowEmpty})

			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)

				entries, rerr := os.ReadDir(dir)
				require.NoError(t, rerr)
				assert.Empty(t, entries)

				return
			}

			require.NoError(t, err)
			assert.Empty(t, result.File.ParentID)
			assert.Empty(t, result.File.Text)
		})
	}
}

func TestCreateMigration_nonInteractiveIncomplete_isProtocolError(t *testing.T) {
	t.Parallel()

	conn := databasetest.New()
	onDescribe(t, conn, syncer.Description{Complete: false})

	_, err := newEngine(conn, t.TempDir(), &fakeHistory{}, &fakeApplier{}).
		CreateMigration(context.Background(), testTarget(t), syncer.CreateOptions{NonInteractive: true})

	require.ErrorIs(t, err, database.ErrServerProtocol)
	assert.Equal(t, "ABORT MIGRATION", conn.Statements()[len(conn.Statements())-1])
}

func interactiveConn(t *testing.T) *databasetest.Conn {
	t.Helper()

	proposal := &syncer.Proposal{
		Prompt:     "did you rename table users to people?",
		Statements: []syncer.ProposedStatement{{Text: "ALTER TABLE users RENAME TO people"}},
	}

	accepted := false

	conn := databasetest.New().
		OnRows("SELECT current_setting", database.Row{"previous": "10s"})

	conn.On("ALTER TABLE users RENAME TO people", func(string, []any) ([]database.Row, error) {
		accepted = true
		return nil, nil
	})

	conn.On("DESCRIBE", func(string, []any) ([]database.Row, error) {
		if accepted {
			return []database.Row{describeRow(t, syncer.Description{
				Complete:  true,
				Confirmed: []string{"ALTER TABLE users RENAME TO people"},
			})}, nil
		}

		return []database.Row{describeRow(t, syncer.Description{Proposed: proposal})}, nil
	})

	return conn
}

func TestCreateMigration_interactive_acceptsProposal(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	conn := interactiveConn(t)
	prompter := &scriptedPrompter{answers: []syncer.Decision{syncer.Reject, syncer.Accept}}

	result, err := newEngine(conn, dir, &fakeHistory{}, &fakeApplier{}).
		CreateMigration(context.Background(), testTarget(t), syncer.CreateOptions{Prompter: prompter})
	require.NoError(t, err)

	assert.Len(t, prompter.seen, 2)
	assert.Equal(t, "ALTER TABLE users RENAME TO people;", result.File.Text)

	stmts := conn.Statements()
	assert.Contains(t, stmts, "SET idle_in_transaction_session_timeout = 0")
	assert.Contains(t, stmts, "ALTER CURRENT MIGRATION REJECT PROPOSED")
	assert.Equal(t, "SELECT set_config('idle_in_transaction_session_timeout', $1, false)", stmts[len(stmts)-1])
	assert.Equal(t, "ABORT MIGRATION", stmts[len(stmts)-2])
}

func TestCreateMigration_interactive_quit(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	conn := interactiveConn(t)

	_, err := newEngine(conn, dir, &fakeHistory{}, &fakeApplier{}).
		CreateMigration(context.Background(), testTarget(t), syncer.CreateOptions{Prompter: &scriptedPrompter{}})

	require.ErrorIs(t, err, migration.ErrUserAbort)
	assert.Contains(t, conn.Statements(), "ABORT MIGRATION")

	entries, rerr := os.ReadDir(dir)
	require.NoError(t, rerr)
	assert.Empty(t, entries)
}

func TestCreateMigration_interactiveWithoutPrompter(t *testing.T) {
	t.Parallel()

	_, err := newEngine(databasetest.New(), t.TempDir(), &fakeHistory{}, &fakeApplier{}).
		CreateMigration(context.Background(), testTarget(t), syncer.CreateOptions{})
	require.Error(t, err)
}

func TestCreateMigration_startRejected_reportsSchemaLocation(t *testing.T) {
	t.Parallel()

	conn := databasetest.New().OnError("START MIGRATION", errors.New("cannot start"))

	_, err := newEngine(conn, t.TempDir(), &fakeHistory{}, &fakeApplier{}).
		CreateMigration(context.Background(), testTarget(t), syncer.CreateOptions{NonInteractive: true})

	require.Error(t, err)
	assert.Contains(t, err.Error(), "starting migration")
	assert.NotContains(t, conn.Statements(), "ABORT MIGRATION")
}

func TestDecision_String(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "accept", syncer.Accept.String())
	assert.Equal(t, "reject", syncer.Reject.String())
	assert.Equal(t, "quit", syncer.Quit.String())
}
