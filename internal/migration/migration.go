package migration

import (
	"crypto/sha256"
	"strings"

	"github.com/mr-tron/base58"
)

// idPrefix tags the hashing scheme of content-addressed ids.
const idPrefix = "m1"

// GeneratedBy records which tool produced a migration. Values other than
// the known constants come from newer servers and are kept verbatim.
type GeneratedBy string

const (
	GeneratedByDevMode      GeneratedBy = "DevMode"
	GeneratedByDDLStatement GeneratedBy = "DDLStatement"
)

// Known reports whether g is one of the values this client understands.
func (g GeneratedBy) Known() bool {
	switch g {
	case GeneratedByDevMode, GeneratedByDDLStatement:
		return true
	default:
		return false
	}
}

// String returns the tag, rendering unrecognised values as "Unknown(...)".
func (g GeneratedBy) String() string {
	if g == "" || g.Known() {
		return string(g)
	}

	return "Unknown(" + string(g) + ")"
}

// Record is a migration as stored in the database.
type Record struct {
	Name        string
	Script      string
	ParentNames []string
	GeneratedBy GeneratedBy
}

// IsRoot reports whether the record has no parents.
func (r *Record) IsRoot() bool { return len(r.ParentNames) == 0 }

// File is a migration as stored in the migrations directory.
type File struct {
	Path        string
	Index       uint64
	ID          string
	ParentID    string // empty for the first migration
	Text        string
	GeneratedBy GeneratedBy
}

func (f *File) parentIDs() []string {
	if f.ParentID == "" {
		return nil
	}

	return []string{f.ParentID}
}

// ComputeID returns the content-addressed id of a migration whose parent is
// parent (empty for the first migration) and whose script is script.
func ComputeID(parent, script string) string {
	if parent == "" {
		parent = InitialParent
	}

	h := sha256.New()
	h.Write([]byte("parent:" + parent + "\n"))
	h.Write([]byte(strings.TrimSpace(script)))

	return idPrefix + base58.Encode(h.Sum(nil))
}
