// Package rebase replays the migrations one branch has on top of another.
//
// The base branch's history must be a prefix of the target branch's. The
// target's extra migrations are re-parented onto the base's head, their ids
// recomputed, and the resulting files added to the project.
package rebase

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/hashicorp/go-hclog"

	"github.com/aqasim81/migration-history/internal/migration"
)

const fileMode = 0o644

// ErrIndexConflict is returned when the project already has a migration at
// an index the merge needs.
var ErrIndexConflict = errors.New("migration index already used")

// MergeMigration is one database migration scheduled for a merge.
type MergeMigration struct {
	Record         *migration.Record
	Key            migration.Key
	IDOverride     string  // set once the id has been recomputed
	ParentOverride *string // new parent, "initial" for the first migration
}

// ID returns the migration's id after the merge.
func (m *MergeMigration) ID() string {
	if m.IDOverride != "" {
		return m.IDOverride
	}

	return m.Record.Name
}

// Parent returns the migration's parent after the merge, empty for a root.
func (m *MergeMigration) Parent() string {
	if m.ParentOverride != nil {
		if *m.ParentOverride == migration.InitialParent {
			return ""
		}

		return *m.ParentOverride
	}

	if len(m.Record.ParentNames) == 0 {
		return ""
	}

	return m.Record.ParentNames[0]
}

// MergeMigrations is the plan for a merge: the migrations both branches
// share and the ones only the target has.
type MergeMigrations struct {
	Base   *migration.Ordered[*MergeMigration]
	Target *migration.Ordered[*MergeMigration]
}

// Applier applies migration files through the standard execution path.
type Applier interface {
	Apply(ctx context.Context, files []*migration.File) error
}

// Plan checks that base is a prefix of target and schedules the rest of
// target on top of base's head.
func Plan(base, target *migration.Ordered[*migration.Record]) (*MergeMigrations, error) {
	if base.Len() > target.Len() {
		return nil, fmt.Errorf("%w: source branch contains more migrations than target", migration.ErrDivergence)
	}

	plan := &MergeMigrations{
		Base:   migration.NewOrdered[*MergeMigration](),
		Target: migration.NewOrdered[*MergeMigration](),
	}

	for i := range base.Len() {
		id, rec := base.At(i)
		if tid, _ := target.At(i); tid != id {
			return nil, fmt.Errorf("%w: histories diverge at migration %d (%s vs %s)",
				migration.ErrDivergence, i+1, id, tid)
		}

		plan.Base.Set(id, &MergeMigration{Record: rec, Key: migration.Index(uint64(i + 1))})
	}

	parent := migration.InitialParent
	if id, _, ok := base.Last(); ok {
		parent = id
	}

	for i := base.Len(); i < target.Len(); i++ {
		id, rec := target.At(i)
		if len(rec.ParentNames) > 1 {
			return nil, fmt.Errorf("%w: migration %s has more than one parent", migration.ErrValidation, id)
		}

		m := &MergeMigration{Record: rec, Key: migration.Index(uint64(i + 1))}
		if i == base.Len() {
			m.ParentOverride = &parent
		}

		plan.Target.Set(id, m)
	}

	return plan, nil
}

// Materialize writes the target-only migrations of plan into dir with
// recomputed ids. Files are staged in a scratch directory first. A failure
// while copying may leave some of the new files in dir.
func Materialize(ctx context.Context, plan *MergeMigrations, dir string, logger hclog.Logger) ([]string, error) {
	if plan.Target.Len() == 0 {
		return nil, nil
	}

	if err := checkIndexes(plan, dir); err != nil {
		return nil, err
	}

	scratch, err := os.MkdirTemp("", "migrate-merge-*")
	if err != nil {
		return nil, fmt.Errorf("creating scratch directory: %w", err)
	}
	defer os.RemoveAll(scratch)

	for _, m := range plan.Target.Values() {
		_, err := migration.Write(scratch, migration.Draft{
			Key:         m.Key,
			Parent:      m.Parent(),
			ID:          m.Record.Name,
			Statements:  []string{m.Record.Script},
			GeneratedBy: m.Record.GeneratedBy,
		})
		if err != nil {
			return nil, fmt.Errorf("staging migration %s: %w", m.Record.Name, err)
		}
	}

	changes, err := migration.Fixup(scratch)
	if err != nil {
		return nil, fmt.Errorf("fixing up merged migrations: %w", err)
	}

	for _, c := range changes {
		if m, ok := plan.Target.Get(c.Old); ok {
			m.IDOverride = c.New
			logger.Debug("migration id changed", "old", c.Old, "new", c.New)
		}
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	entries, err := os.ReadDir(scratch)
	if err != nil {
		return nil, fmt.Errorf("reading scratch directory: %w", err)
	}

	if err := os.MkdirAll(dir, 0o755); err != nil { //nolint:mnd // directory permissions
		return nil, fmt.Errorf("creating migrations directory %s: %w", dir, err)
	}

	written := make([]string, 0, len(entries))

	for _, e := range entries {
		dst := filepath.Join(dir, e.Name())
		if err := copyFile(filepath.Join(scratch, e.Name()), dst); err != nil {
			return written, err
		}

		written = append(written, dst)
		logger.Info("added migration", "file", dst)
	}

	return written, nil
}

// checkIndexes rejects a merge whose indexes are already taken in dir.
func checkIndexes(plan *MergeMigrations, dir string) error {
	existing, err := migration.ReadAll(dir, false)
	if err != nil {
		return err
	}

	used := make(map[uint64]string, existing.Len())
	for _, f := range existing.Values() {
		used[f.Index] = f.Path
	}

	for _, m := range plan.Target.Values() {
		if path, ok := used[m.Key.Index()]; ok {
			return fmt.Errorf("%w: %s is needed for %s but holds %s",
				ErrIndexConflict, m.Key, m.Record.Name, filepath.Base(path))
		}
	}

	return nil
}

func copyFile(src, dst string) error {
	data, err := os.ReadFile(src)
	if err != nil {
		return fmt.Errorf("reading %s: %w", src, err)
	}

	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_EXCL, fileMode)
	if err != nil {
		return fmt.Errorf("copying to %s: %w", dst, err)
	}

	_, werr := out.Write(data)
	if cerr := out.Close(); werr == nil {
		werr = cerr
	}

	if werr != nil {
		return fmt.Errorf("copying to %s: %w", dst, werr)
	}

	return nil
}

// Apply applies the merged migrations found in dir through a.
func Apply(ctx context.Context, plan *MergeMigrations, dir string, a Applier) error {
	seq, err := migration.ReadAll(dir, true)
	if err != nil {
		return fmt.Errorf("reading migrations: %w", err)
	}

	want := make(map[string]bool, plan.Target.Len())
	for _, m := range plan.Target.Values() {
		want[m.ID()] = true
	}

	var files []*migration.File

	for _, f := range seq.Values() {
		if want[f.ID] {
			files = append(files, f)
		}
	}

	if len(files) != len(want) {
		return fmt.Errorf("%w: %d of %d merged migrations found in %s",
			migration.ErrValidation, len(files), len(want), dir)
	}

	return a.Apply(ctx, files)
}
