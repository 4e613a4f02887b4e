package syncer_test

import (
	"context"
	"errors"
	"testing"

	"github.com/hashicorp/go-multierror"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aqasim81/migration-history/internal/database"
	"github.com/aqasim81/migration-history/internal/database/databasetest"
	"github.com/aqasim81/migration-history/internal/syncer"
)

func TestCheckStatus_headPositions(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name        string
		scripts     []string
		headIndex   int // -1: empty database, -2: head not on disk
		wantState   syncer.State
		wantPending int
	}{
		{name: "empty database", scripts: []string{"SELECT 1"}, headIndex: -1, wantState: syncer.Empty, wantPending: 1},
		{name: "behind by two", scripts: []string{"SELECT 1", "SELECT 2", "SELECT 3"}, headIndex: 0,
			wantState: syncer.Behind, wantPending: 2},
		{name: "diverged", scripts: []string{"SELECT 1"}, headIndex: -2, wantState: syncer.Diverged},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			dir := t.TempDir()
			ids := writeMigrations(t, dir, tt.scripts...)

			h := &fakeHistory{}
			switch {
			case tt.headIndex >= 0:
				h.head = ids[tt.headIndex]
			case tt.headIndex == -2:
				h.head = "m1notondisk"
			}

			conn := databasetest.New()

			report, err := newEngine(conn, dir, h, &fakeApplier{}).CheckStatus(context.Background(), testTarget(t))
			require.NoError(t, err)

			assert.Equal(t, tt.wantState, report.State)
			assert.Equal(t, tt.wantPending, report.Pending)
			assert.Equal(t, ids[len(ids)-1], report.Last)
			assert.Nil(t, report.Drift)
			assert.Empty(t, conn.Statements(), "no migration block for a database that is not up to date")
		})
	}
}

func TestCheckStatus_upToDate_noDrift(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	ids := writeMigrations(t, dir, "CREATE TABLE users (id INT)")

	conn := databasetest.New()
	onDescribe(t, conn, syncer.Description{Complete: true})

	report, err := newEngine(conn, dir, &fakeHistory{head: ids[0]}, &fakeApplier{}).
		CheckStatus(context.Background(), testTarget(t))
	require.NoError(t, err)

	assert.Equal(t, syncer.UpToDate, report.State)
	assert.Equal(t, ids[0], report.Head)
	assert.Nil(t, report.Drift)
	assert.Equal(t, []string{"START MIGRATION", "DESCRIBE CURRENT MIGRATION AS JSON", "ABORT MIGRATION"},
		protocol(conn.Statements()))
}

func TestCheckStatus_upToDate_driftPreview(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	ids := writeMigrations(t, dir, "CREATE TABLE users (id INT)")

	conn := databasetest.New()
	onDescribe(t, conn, syncer.Description{
		Confirmed: []string{"A", "B", "C", "D", "E"},
	})

	report, err := newEngine(conn, dir, &fakeHistory{head: ids[0]}, &fakeApplier{}).
		CheckStatus(context.Background(), testTarget(t))
	require.NoError(t, err)

	require.NotNil(t, report.Drift)
	assert.Equal(t, []string{"A", "B", "C"}, report.Drift.Statements)
	assert.Equal(t, 2, report.Drift.Remaining)
	assert.Equal(t, "ABORT MIGRATION", conn.Statements()[len(conn.Statements())-1])
}

func TestCheckStatus_onlyProposal_isDrift(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()

	conn := databasetest.New()
	onDescribe(t, conn, syncer.Description{
		Proposed: &syncer.Proposal{Statements: []syncer.ProposedStatement{{Text: "ALTER TABLE users RENAME TO people"}}},
	})

	report, err := newEngine(conn, dir, &fakeHistory{}, &fakeApplier{}).
		CheckStatus(context.Background(), testTarget(t))
	require.NoError(t, err)

	assert.Equal(t, syncer.UpToDate, report.State)
	require.NotNil(t, report.Drift)
	assert.True(t, report.Drift.Proposed)
	assert.Equal(t, []string{"ALTER TABLE users RENAME TO people"}, report.Drift.Statements)
}

func TestCheckStatus_describeFails_stillAborts(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()

	conn := databasetest.New().OnError("DESCRIBE", errors.New("server went sideways"))

	_, err := newEngine(conn, dir, &fakeHistory{}, &fakeApplier{}).
		CheckStatus(context.Background(), testTarget(t))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "server went sideways")
	assert.Equal(t, "ABORT MIGRATION", conn.Statements()[len(conn.Statements())-1])
}

func TestCheckStatus_abortFails_reportsBothErrors(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()

	describeErr := errors.New("describe failed")
	abortErr := errors.New("abort failed")

	conn := databasetest.New().
		OnError("DESCRIBE", describeErr).
		OnError("ABORT", abortErr)

	_, err := newEngine(conn, dir, &fakeHistory{}, &fakeApplier{}).
		CheckStatus(context.Background(), testTarget(t))

	require.ErrorIs(t, err, describeErr)
	require.ErrorIs(t, err, abortErr)

	var closeErr *syncer.CloseError
	require.ErrorAs(t, err, &closeErr)
	assert.Equal(t, "ABORT MIGRATION", closeErr.Statement)

	var merr *multierror.Error
	require.ErrorAs(t, err, &merr)
	assert.Len(t, merr.Errors, 2)
}

func TestCheckStatus_cancelledDuringBlock_stillAborts(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	ctx, cancel := context.WithCancel(context.Background())

	conn := databasetest.New()
	conn.On("DESCRIBE", func(string, []any) ([]database.Row, error) {
		cancel()
		return []database.Row{describeRow(t, syncer.Description{Complete: true})}, nil
	})

	_, err := newEngine(conn, dir, &fakeHistory{}, &fakeApplier{}).CheckStatus(ctx, testTarget(t))

	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, "ABORT MIGRATION", conn.Statements()[len(conn.Statements())-1])
}

func TestCheckStatus_brokenConnection_skipsAbort(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()

	conn := databasetest.New()
	conn.On("DESCRIBE", func(string, []any) ([]database.Row, error) {
		conn.Break()
		return nil, errors.New("connection reset by peer")
	})

	_, err := newEngine(conn, dir, &fakeHistory{}, &fakeApplier{}).
		CheckStatus(context.Background(), testTarget(t))

	require.ErrorIs(t, err, database.ErrConnection)
	assert.NotContains(t, conn.Statements(), "ABORT MIGRATION")
}

func TestCheckStatus_badDescribeJSON_isProtocolError(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()

	conn := databasetest.New().OnRows("DESCRIBE", database.Row{"migration": "{not json"})

	_, err := newEngine(conn, dir, &fakeHistory{}, &fakeApplier{}).
		CheckStatus(context.Background(), testTarget(t))

	require.ErrorIs(t, err, database.ErrServerProtocol)
}

func TestCheckStatus_historyError(t *testing.T) {
	t.Parallel()

	_, err := newEngine(databasetest.New(), t.TempDir(), &fakeHistory{err: errors.New("no catalog")}, &fakeApplier{}).
		CheckStatus(context.Background(), testTarget(t))

	require.Error(t, err)
	assert.Contains(t, err.Error(), "reading current head")
}

func TestState_String(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "up to date", syncer.UpToDate.String())
	assert.Equal(t, "empty", syncer.Empty.String())
	assert.Equal(t, "behind", syncer.Behind.String())
	assert.Equal(t, "diverged", syncer.Diverged.String())
}
