package cli

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/hashicorp/go-hclog"
	"github.com/spf13/cobra"
	"github.com/stretchr/testify/require"

	"github.com/aqasim81/migration-history/internal/config"
	"github.com/aqasim81/migration-history/internal/database/databasetest"
	"github.com/aqasim81/migration-history/internal/migration"
)

// project is a migrations and schema directory pair for one test.
type project struct {
	migrations string
	schema     string
}

// setupTestConfig sets AppConfig for the duration of the test and restores it on cleanup.
func setupTestConfig(t *testing.T) project {
	t.Helper()

	root := t.TempDir()
	p := project{
		migrations: filepath.Join(root, "migrations"),
		schema:     filepath.Join(root, "dbschema"),
	}

	oldCfg, oldLogger := AppConfig, logger

	cfg := config.New()
	cfg.MigrationsDir = p.migrations
	cfg.SchemaDir = p.schema
	cfg.LockTimeout = 0
	cfg.StatementTimeout = 0
	AppConfig = cfg
	logger = hclog.NewNullLogger()

	t.Cleanup(func() { AppConfig, logger = oldCfg, oldLogger })

	return p
}

// writeSchema replaces the schema directory's only file.
func (p project) writeSchema(t *testing.T, sql string) {
	t.Helper()

	require.NoError(t, os.MkdirAll(p.schema, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(p.schema, "default.sql"), []byte(sql), 0o600))
}

// writeMigration appends a migration after the directory's last one.
func (p project) writeMigration(t *testing.T, statements ...string) *migration.File {
	t.Helper()

	seq, err := migration.ReadAll(p.migrations, false)
	require.NoError(t, err)

	parent, _, _ := seq.Last()

	f, err := migration.Write(p.migrations, migration.Draft{
		Key:        migration.Index(uint64(seq.Len() + 1)),
		Parent:     parent,
		Statements: statements,
	})
	require.NoError(t, err)

	return f
}

// serverSession adapts an in-memory server to Session.
type serverSession struct {
	*databasetest.Server
}

func (serverSession) Close(context.Context) error { return nil }

// useServers routes connections to the server registered for their branch.
func useServers(t *testing.T, branches map[string]*databasetest.Server) {
	t.Helper()

	old := connect
	connect = func(_ context.Context, _ *config.Config, branch string) (Session, error) {
		srv, ok := branches[branch]
		require.True(t, ok, "no server for branch %q", branch)

		return serverSession{srv}, nil
	}

	t.Cleanup(func() { connect = old })
}

// useServer routes every connection to srv.
func useServer(t *testing.T, srv *databasetest.Server) {
	t.Helper()
	useServers(t, map[string]*databasetest.Server{"": srv})
}

// newTestCmd creates a fresh cobra.Command wired to run with a captured output buffer.
func newTestCmd(t *testing.T, run func(*cobra.Command, []string) error, flags func(*cobra.Command)) (*cobra.Command, *bytes.Buffer) {
	t.Helper()

	buf := new(bytes.Buffer)
	cmd := &cobra.Command{
		Use:           "test",
		RunE:          run,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	if flags != nil {
		flags(cmd)
	}

	cmd.SetOut(buf)
	cmd.SetErr(buf)
	cmd.SetIn(bytes.NewReader(nil))

	return cmd, buf
}

// runCmd executes cmd with args and returns the exit code the CLI would
// end with.
func runCmd(t *testing.T, cmd *cobra.Command, args ...string) int {
	t.Helper()

	if args == nil {
		args = []string{}
	}

	cmd.SetArgs(args)

	if err := cmd.ExecuteContext(context.Background()); err != nil {
		return report(cmd.ErrOrStderr(), err)
	}

	return 0
}

func migrateFlags(cmd *cobra.Command) { registerMigrateFlags(cmd) }

func statusFlags(cmd *cobra.Command) {
	cmd.Flags().Bool("quiet", false, "")
}

func createFlags(cmd *cobra.Command) {
	cmd.Flags().Bool("non-interactive", false, "")
	cmd.Flags().Bool("allow-empty", false, "")
}

func logFlags(cmd *cobra.Command) {
	cmd.Flags().Bool("from-fs", false, "")
	cmd.Flags().Bool("from-db", false, "")
	cmd.Flags().Bool("newest-first", false, "")
	cmd.Flags().Int("limit", 0, "")
}

func analyzeFlags(cmd *cobra.Command) {
	cmd.Flags().String("format", "", "")
	cmd.Flags().Bool("fail-on-high", false, "")
}

func branchFlags(cmd *cobra.Command) {
	cmd.Args = cobra.ExactArgs(1)
	cmd.Flags().Bool("no-apply", false, "")
}
