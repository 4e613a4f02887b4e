package migration

import (
	"fmt"
	"strings"
)

// Linearize orders items so that every item follows all of its parents.
//
// Roots are seeded in input order and children are visited first-in
// first-out in the order they are discovered, so siblings keep the relative
// order they had in items. An item with several parents is emitted once all
// of them have been. Items that can never be reached (a missing parent or a
// cycle) and duplicate ids are reported as ErrValidation.
func Linearize[V any](items []V, id func(V) string, parents func(V) []string) (*Ordered[V], error) {
	byID := make(map[string]V, len(items))
	children := make(map[string][]V)
	pending := make(map[string]int, len(items))

	var queue []V

	for _, item := range items {
		key := id(item)
		if _, dup := byID[key]; dup {
			return nil, fmt.Errorf("%w: duplicate migration %s", ErrValidation, key)
		}

		byID[key] = item

		ps := parents(item)
		pending[key] = len(ps)

		if len(ps) == 0 {
			queue = append(queue, item)
		}

		for _, p := range ps {
			children[p] = append(children[p], item)
		}
	}

	out := NewOrdered[V]()

	for len(queue) > 0 {
		item := queue[0]
		queue = queue[1:]

		key := id(item)
		if out.Has(key) {
			continue
		}

		out.Set(key, item)

		for _, child := range children[key] {
			ck := id(child)
			pending[ck]--

			if pending[ck] == 0 && !out.Has(ck) {
				queue = append(queue, child)
			}
		}
	}

	if out.Len() != len(items) {
		var missing []string

		for _, item := range items {
			if key := id(item); !out.Has(key) {
				missing = append(missing, key)
			}
		}

		return nil, fmt.Errorf("%w: unreachable migrations (missing parent or cycle): %s",
			ErrValidation, strings.Join(missing, ", "))
	}

	return out, nil
}

// LinearizeRecords orders database records parent-first.
func LinearizeRecords(records []*Record) (*Ordered[*Record], error) {
	return Linearize(records,
		func(r *Record) string { return r.Name },
		func(r *Record) []string { return r.ParentNames },
	)
}

// LinearizeFiles orders migration files parent-first.
func LinearizeFiles(files []*File) (*Ordered[*File], error) {
	return Linearize(files,
		func(f *File) string { return f.ID },
		(*File).parentIDs,
	)
}
