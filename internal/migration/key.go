package migration

import "fmt"

// InitialParent is the parent written for the first migration of a chain.
const InitialParent = "initial"

// Key orders migrations: either a 1-based index or the initial sentinel.
type Key struct {
	index uint64
}

// Index returns the key of the n-th migration (1-based).
func Index(n uint64) Key { return Key{index: n} }

// Initial returns the sentinel key that precedes every migration.
func Initial() Key { return Key{} }

// IsInitial reports whether k is the sentinel.
func (k Key) IsInitial() bool { return k.index == 0 }

// Index returns the 1-based position, or 0 for the sentinel.
func (k Key) Index() uint64 { return k.index }

func (k Key) String() string {
	if k.IsInitial() {
		return InitialParent
	}

	return fmt.Sprintf("%05d", k.index)
}
