package migration

// Ordered is an insertion-ordered map from migration id to value.
type Ordered[V any] struct {
	keys   []string
	values map[string]V
}

// NewOrdered returns an empty map.
func NewOrdered[V any]() *Ordered[V] {
	return &Ordered[V]{values: make(map[string]V)}
}

// Set stores v under id. New ids are appended; existing ids keep their position.
func (o *Ordered[V]) Set(id string, v V) {
	if _, ok := o.values[id]; !ok {
		o.keys = append(o.keys, id)
	}

	o.values[id] = v
}

// Get returns the value stored under id.
func (o *Ordered[V]) Get(id string) (V, bool) {
	v, ok := o.values[id]
	return v, ok
}

// Has reports whether id is present.
func (o *Ordered[V]) Has(id string) bool {
	_, ok := o.values[id]
	return ok
}

// Len returns the number of entries.
func (o *Ordered[V]) Len() int { return len(o.keys) }

// Keys returns ids in insertion order.
func (o *Ordered[V]) Keys() []string {
	return append([]string(nil), o.keys...)
}

// Values returns values in insertion order.
func (o *Ordered[V]) Values() []V {
	out := make([]V, len(o.keys))
	for i, k := range o.keys {
		out[i] = o.values[k]
	}

	return out
}

// At returns the id and value at position i.
func (o *Ordered[V]) At(i int) (string, V) {
	k := o.keys[i]
	return k, o.values[k]
}

// Last returns the final entry, if any.
func (o *Ordered[V]) Last() (string, V, bool) {
	if len(o.keys) == 0 {
		var zero V
		return "", zero, false
	}

	id, v := o.At(len(o.keys) - 1)

	return id, v, true
}

// Position returns the 0-based position of id, or -1.
func (o *Ordered[V]) Position(id string) int {
	for i, k := range o.keys {
		if k == id {
			return i
		}
	}

	return -1
}
