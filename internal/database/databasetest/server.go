package databasetest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/aqasim81/migration-history/internal/database"
	"github.com/aqasim81/migration-history/internal/migration"
	"github.com/aqasim81/migration-history/internal/parser"
)

// Server is an in-memory database that understands the schema_migrations
// catalog and the migration block statements. Its schema is the set of DDL
// statements it has executed; the server diff is "target statements not yet
// executed".
type Server struct {
	mu         sync.Mutex
	ddl        []string
	records    []*migration.Record
	catalog    bool
	block      *openBlock
	statements []string
}

type openBlock struct {
	target   []string
	accepted []string
}

var _ database.Connection = (*Server)(nil)

// NewServer returns an empty database.
func NewServer() *Server {
	return &Server{}
}

// DDL returns the statements that make up the current schema.
func (s *Server) DDL() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	return append([]string(nil), s.ddl...)
}

// Records returns the catalog in insertion order.
func (s *Server) Records() []*migration.Record {
	s.mu.Lock()
	defer s.mu.Unlock()

	return append([]*migration.Record(nil), s.records...)
}

// Statements returns every statement received so far.
func (s *Server) Statements() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	return append([]string(nil), s.statements...)
}

// InBlock reports whether a migration block is open.
func (s *Server) InBlock() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.block != nil
}

func (s *Server) Query(ctx context.Context, sql string, args ...any) ([]database.Row, error) {
	return s.handle(ctx, sql, args)
}

func (s *Server) QueryRequiredSingle(ctx context.Context, sql string, args ...any) (database.Row, error) {
	rows, err := s.handle(ctx, sql, args)
	if err != nil {
		return nil, err
	}

	if len(rows) != 1 {
		return nil, fmt.Errorf("%w: expected exactly one row, got %d", database.ErrServerProtocol, len(rows))
	}

	return rows[0], nil
}

func (s *Server) Execute(ctx context.Context, sql string, args ...any) error {
	_, err := s.handle(ctx, sql, args)
	return err
}

func (s *Server) ServerVersion(context.Context) (string, error) { return "16.4", nil }

func (s *Server) IsConsistent() bool { return true }

//nolint:cyclop,funlen // one case per statement kind
func (s *Server) handle(ctx context.Context, sql string, args []any) ([]database.Row, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.statements = append(s.statements, sql)
	stmt := strings.TrimSpace(sql)

	switch {
	case strings.HasPrefix(stmt, "START MIGRATION TO {"):
		return nil, s.start(stmt)
	case stmt == "POPULATE MIGRATION":
		b, err := s.open()
		if err != nil {
			return nil, err
		}

		b.accepted = append(b.accepted, s.missing()...)

		return nil, nil
	case stmt == "DESCRIBE CURRENT MIGRATION AS JSON":
		return s.describe()
	case stmt == "ALTER CURRENT MIGRATION REJECT PROPOSED":
		_, err := s.open()
		return nil, err
	case stmt == "ABORT MIGRATION":
		if _, err := s.open(); err != nil {
			return nil, err
		}

		s.block = nil

		return nil, nil
	case stmt == "COMMIT MIGRATION":
		return nil, s.commit()
	case stmt == "BEGIN", stmt == "COMMIT", stmt == "ROLLBACK",
		strings.HasPrefix(stmt, "SET "), strings.HasPrefix(stmt, "SELECT set_config"),
		strings.HasPrefix(stmt, "SELECT pg_advisory_unlock"):
		return nil, nil
	case strings.HasPrefix(stmt, "SELECT pg_try_advisory_lock"):
		return []database.Row{{"acquired": true}}, nil
	case strings.HasPrefix(stmt, "SELECT current_setting"):
		return []database.Row{{"previous": "0"}}, nil
	case strings.HasPrefix(stmt, "CREATE TABLE IF NOT EXISTS schema_migrations"):
		s.catalog = true
		return nil, nil
	case strings.HasPrefix(stmt, "SELECT to_regclass"):
		return []database.Row{{"present": s.catalog}}, nil
	case strings.HasPrefix(stmt, "SELECT m.name"):
		return s.heads(), nil
	case strings.HasPrefix(stmt, "SELECT EXISTS(SELECT 1 FROM schema_migrations"):
		return []database.Row{{"applied": s.find(args[0].(string)) != nil}}, nil
	case strings.HasPrefix(stmt, "SELECT name, script, parent_names"):
		return s.rows(), nil
	case strings.HasPrefix(stmt, "INSERT INTO schema_migrations"):
		return nil, s.insert(args)
	default:
		return nil, s.exec(stmt)
	}
}

func (s *Server) open() (*openBlock, error) {
	if s.block == nil {
		return nil, errors.New("no migration in progress")
	}

	return s.block, nil
}

func (s *Server) start(stmt string) error {
	if s.block != nil {
		return errors.New("migration already in progress")
	}

	body := strings.TrimPrefix(stmt, "START MIGRATION TO {")
	body = strings.TrimSuffix(body, "};")

	target, err := split(body)
	if err != nil {
		return err
	}

	s.block = &openBlock{target: target}

	return nil
}

// missing returns target statements that are neither in the schema nor
// accepted into the open block.
func (s *Server) missing() []string {
	var out []string

	for _, t := range s.block.target {
		if !contains(s.ddl, t) && !contains(s.block.accepted, t) {
			out = append(out, t)
		}
	}

	return out
}

func (s *Server) describe() ([]database.Row, error) {
	if _, err := s.open(); err != nil {
		return nil, err
	}

	missing := s.missing()

	desc := map[string]any{
		"confirmed": append([]string{}, s.block.accepted...),
		"complete":  len(missing) == 0,
		"proposed":  nil,
	}

	if len(missing) > 0 {
		desc["proposed"] = map[string]any{
			"statements": []map[string]string{{"text": missing[0]}},
			"prompt":     "did you mean to run " + missing[0] + "?",
			"confidence": 1.0,
			"data_safe":  true,
		}
	}

	raw, err := json.Marshal(desc)
	if err != nil {
		return nil, err
	}

	return []database.Row{{"migration": string(raw)}}, nil
}

func (s *Server) commit() error {
	b, err := s.open()
	if err != nil {
		return err
	}

	s.block = nil

	if len(b.accepted) == 0 {
		return nil
	}

	s.ddl = append(s.ddl, b.accepted...)

	script := strings.Join(b.accepted, ";\n") + ";"
	head := ""

	if heads := s.heads(); len(heads) == 1 {
		head, _ = heads[0].String("name")
	}

	r := &migration.Record{
		Name:        migration.ComputeID(head, script),
		Script:      script,
		GeneratedBy: migration.GeneratedByDevMode,
	}
	if head != "" {
		r.ParentNames = []string{head}
	}

	s.catalog = true
	s.records = append(s.records, r)

	return nil
}

func (s *Server) exec(stmt string) error {
	stmts, err := split(stmt)
	if err != nil {
		return err
	}

	if s.block != nil {
		s.block.accepted = append(s.block.accepted, stmts...)
		return nil
	}

	s.ddl = append(s.ddl, stmts...)

	return nil
}

func (s *Server) insert(args []any) error {
	if !s.catalog {
		return errors.New(`relation "schema_migrations" does not exist`)
	}

	name := args[0].(string)
	if s.find(name) != nil {
		return fmt.Errorf("duplicate key value violates unique constraint: %s", name)
	}

	r := &migration.Record{
		Name:        name,
		Script:      args[1].(string),
		ParentNames: args[2].([]string),
	}
	if g, ok := args[3].(string); ok {
		r.GeneratedBy = migration.GeneratedBy(g)
	}

	s.records = append(s.records, r)

	return nil
}

func (s *Server) heads() []database.Row {
	var rows []database.Row

	for _, r := range s.records {
		child := false

		for _, c := range s.records {
			if contains(c.ParentNames, r.Name) {
				child = true
				break
			}
		}

		if !child {
			rows = append(rows, database.Row{"name": r.Name})
		}
	}

	return rows
}

func (s *Server) rows() []database.Row {
	rows := make([]database.Row, 0, len(s.records))

	for _, r := range s.records {
		rows = append(rows, database.Row{
			"name":         r.Name,
			"script":       r.Script,
			"parent_names": append([]string{}, r.ParentNames...),
			"generated_by": string(r.GeneratedBy),
		})
	}

	return rows
}

func (s *Server) find(name string) *migration.Record {
	for _, r := range s.records {
		if r.Name == name {
			return r
		}
	}

	return nil
}

// split breaks sql into statements without terminators.
func split(sql string) ([]string, error) {
	stmts, err := parser.Split(sql)
	if err != nil {
		return nil, err
	}

	out := make([]string, 0, len(stmts))

	for _, st := range stmts {
		st = strings.TrimSuffix(strings.TrimSpace(st), ";")
		if st != "" {
			out = append(out, strings.TrimSpace(st))
		}
	}

	return out, nil
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}

	return false
}
