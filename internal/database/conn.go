package database

import (
	"context"
	"errors"
	"fmt"

	"github.com/hashicorp/go-hclog"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// Row is one result row keyed by column name.
type Row map[string]any

// String returns column as a string. Text and byte values are accepted.
func (r Row) String(column string) (string, error) {
	switch v := r[column].(type) {
	case string:
		return v, nil
	case []byte:
		return string(v), nil
	case nil:
		return "", nil
	default:
		return "", fmt.Errorf("%w: column %q is %T, not text", ErrServerProtocol, column, v)
	}
}

// Strings returns column as a string slice.
func (r Row) Strings(column string) ([]string, error) {
	switch v := r[column].(type) {
	case []string:
		return v, nil
	case []any:
		out := make([]string, 0, len(v))

		for _, e := range v {
			s, ok := e.(string)
			if !ok {
				return nil, fmt.Errorf("%w: column %q holds %T, not text", ErrServerProtocol, column, e)
			}

			out = append(out, s)
		}

		return out, nil
	case nil:
		return nil, nil
	default:
		return nil, fmt.Errorf("%w: column %q is %T, not an array", ErrServerProtocol, column, v)
	}
}

// Bool returns column as a bool.
func (r Row) Bool(column string) (bool, error) {
	v, ok := r[column].(bool)
	if !ok {
		return false, fmt.Errorf("%w: column %q is %T, not bool", ErrServerProtocol, column, r[column])
	}

	return v, nil
}

// Connection is a single request/response database session.
type Connection interface {
	Query(ctx context.Context, sql string, args ...any) ([]Row, error)
	QueryRequiredSingle(ctx context.Context, sql string, args ...any) (Row, error)
	Execute(ctx context.Context, sql string, args ...any) error
	ServerVersion(ctx context.Context) (string, error)
	// IsConsistent reports whether the session can still be used.
	IsConsistent() bool
}

// Conn is a Connection over one exclusively owned pgx connection.
type Conn struct {
	conn   *pgx.Conn
	broken bool
	logger hclog.Logger
}

var _ Connection = (*Conn)(nil)

// ConnOption configures Connect.
type ConnOption func(*connOptions)

type connOptions struct {
	branch string
	logger hclog.Logger
}

// WithBranch connects to the named database instead of the one in the URL.
func WithBranch(name string) ConnOption {
	return func(o *connOptions) { o.branch = name }
}

// WithLogger sets the logger used for connection diagnostics.
func WithLogger(l hclog.Logger) ConnOption {
	return func(o *connOptions) { o.logger = l }
}

// Connect opens a connection for the given database URL and verifies it
// with a ping.
func Connect(ctx context.Context, databaseURL string, opts ...ConnOption) (*Conn, error) {
	o := connOptions{logger: hclog.NewNullLogger()}
	for _, opt := range opts {
		opt(&o)
	}

	cfg, err := pgx.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidDatabaseURL, err)
	}

	if o.branch != "" {
		cfg.Database = o.branch
	}

	conn, err := pgx.ConnectConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConnectionFailed, err)
	}

	if err := conn.Ping(ctx); err != nil {
		_ = conn.Close(ctx)

		return nil, fmt.Errorf("%w: %w", ErrConnectionFailed, err)
	}

	o.logger.Debug("connected", "database", cfg.Database, "host", cfg.Host)

	return &Conn{conn: conn, logger: o.logger}, nil
}

// Query runs sql and returns every row.
func (c *Conn) Query(ctx context.Context, sql string, args ...any) ([]Row, error) {
	if err := c.usable(); err != nil {
		return nil, err
	}

	rows, err := c.conn.Query(ctx, sql, args...)
	if err != nil {
		return nil, c.classify(err)
	}

	maps, err := pgx.CollectRows(rows, pgx.RowToMap)
	if err != nil {
		return nil, c.classify(err)
	}

	out := make([]Row, len(maps))
	for i, m := range maps {
		out[i] = m
	}

	return out, nil
}

// QueryRequiredSingle runs sql and returns its only row. Zero or several
// rows are a protocol error.
func (c *Conn) QueryRequiredSingle(ctx context.Context, sql string, args ...any) (Row, error) {
	if err := c.usable(); err != nil {
		return nil, err
	}

	rows, err := c.conn.Query(ctx, sql, args...)
	if err != nil {
		return nil, c.classify(err)
	}

	m, err := pgx.CollectExactlyOneRow(rows, pgx.RowToMap)
	if errors.Is(err, pgx.ErrNoRows) || errors.Is(err, pgx.ErrTooManyRows) {
		return nil, fmt.Errorf("%w: expected exactly one row: %w", ErrServerProtocol, err)
	}

	if err != nil {
		return nil, c.classify(err)
	}

	return m, nil
}

// Execute runs sql, discarding any result.
func (c *Conn) Execute(ctx context.Context, sql string, args ...any) error {
	if err := c.usable(); err != nil {
		return err
	}

	if _, err := c.conn.Exec(ctx, sql, args...); err != nil {
		return c.classify(err)
	}

	return nil
}

// ServerVersion returns the server_version reported at startup.
func (c *Conn) ServerVersion(_ context.Context) (string, error) {
	if err := c.usable(); err != nil {
		return "", err
	}

	v := c.conn.PgConn().ParameterStatus("server_version")
	if v == "" {
		return "", fmt.Errorf("%w: server did not report its version", ErrServerProtocol)
	}

	return v, nil
}

// IsConsistent reports whether the connection is open and no transport
// error has been seen.
func (c *Conn) IsConsistent() bool {
	return !c.broken && !c.conn.IsClosed()
}

// Close closes the connection.
func (c *Conn) Close(ctx context.Context) error {
	if err := c.conn.Close(ctx); err != nil {
		return fmt.Errorf("closing connection: %w", err)
	}

	return nil
}

func (c *Conn) usable() error {
	if !c.IsConsistent() {
		return fmt.Errorf("%w: connection is no longer usable", ErrConnection)
	}

	return nil
}

// classify returns server errors unchanged and marks the connection broken
// on anything else.
func (c *Conn) classify(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return err
	}

	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		// pgx closes the connection when a query is interrupted.
		if c.conn.IsClosed() {
			c.broken = true
		}

		return err
	}

	c.broken = true
	c.logger.Debug("connection marked broken", "error", err)

	return fmt.Errorf("%w: %w", ErrConnection, err)
}
