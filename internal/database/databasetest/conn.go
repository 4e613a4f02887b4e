// Package databasetest provides a scripted database.Connection for tests.
package databasetest

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/aqasim81/migration-history/internal/database"
)

// Handler answers one statement.
type Handler func(sql string, args []any) ([]database.Row, error)

type route struct {
	prefix  string
	handler Handler
}

// Conn records every statement it receives and answers from registered
// handlers. Statements without a handler succeed with no rows.
type Conn struct {
	mu         sync.Mutex
	routes     []route
	statements []string
	broken     bool

	Version string
}

var _ database.Connection = (*Conn)(nil)

// New returns an empty scripted connection.
func New() *Conn {
	return &Conn{Version: "16.4"}
}

// On registers h for statements starting with prefix. Later registrations
// take precedence.
func (c *Conn) On(prefix string, h Handler) *Conn {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.routes = append(c.routes, route{prefix: prefix, handler: h})

	return c
}

// OnRows answers statements starting with prefix with rows.
func (c *Conn) OnRows(prefix string, rows ...database.Row) *Conn {
	return c.On(prefix, func(string, []any) ([]database.Row, error) { return rows, nil })
}

// OnError fails statements starting with prefix with err.
func (c *Conn) OnError(prefix string, err error) *Conn {
	return c.On(prefix, func(string, []any) ([]database.Row, error) { return nil, err })
}

// Break makes the connection report itself inconsistent.
func (c *Conn) Break() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.broken = true
}

// Statements returns every statement received so far.
func (c *Conn) Statements() []string {
	c.mu.Lock()
	defer c.mu.Unlock()

	return append([]string(nil), c.statements...)
}

func (c *Conn) Query(ctx context.Context, sql string, args ...any) ([]database.Row, error) {
	return c.dispatch(ctx, sql, args)
}

func (c *Conn) QueryRequiredSingle(ctx context.Context, sql string, args ...any) (database.Row, error) {
	rows, err := c.dispatch(ctx, sql, args)
	if err != nil {
		return nil, err
	}

	if len(rows) != 1 {
		return nil, fmt.Errorf("%w: expected exactly one row, got %d", database.ErrServerProtocol, len(rows))
	}

	return rows[0], nil
}

func (c *Conn) Execute(ctx context.Context, sql string, args ...any) error {
	_, err := c.dispatch(ctx, sql, args)
	return err
}

func (c *Conn) ServerVersion(context.Context) (string, error) {
	return c.Version, nil
}

func (c *Conn) IsConsistent() bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	return !c.broken
}

func (c *Conn) dispatch(ctx context.Context, sql string, args []any) ([]database.Row, error) {
	c.mu.Lock()

	if c.broken {
		c.mu.Unlock()
		return nil, fmt.Errorf("%w: connection is no longer usable", database.ErrConnection)
	}

	if err := ctx.Err(); err != nil {
		c.mu.Unlock()
		return nil, err
	}

	c.statements = append(c.statements, sql)

	var h Handler

	trimmed := strings.TrimSpace(sql)
	for i := len(c.routes) - 1; i >= 0; i-- {
		if strings.HasPrefix(trimmed, c.routes[i].prefix) {
			h = c.routes[i].handler
			break
		}
	}

	c.mu.Unlock()

	if h == nil {
		return nil, nil
	}

	return h(sql, args)
}
