// Package sourcemap concatenates named text fragments into one buffer and
// maps offsets in that buffer back to the fragment they came from.
package sourcemap

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// ErrLookup is returned when an offset range does not fall inside a recorded slice.
var ErrLookup = errors.New("range is outside of any source fragment")

// Slice describes one fragment of the combined buffer.
type Slice[N any] struct {
	Name       N
	Offset     int
	Size       int
	LineOffset int
}

// Builder accumulates fragments. The zero value is ready to use.
type Builder[N any] struct {
	buf       strings.Builder
	slices    []Slice[N]
	lines     int
	pendingCR bool
}

// NewBuilder returns an empty builder.
func NewBuilder[N any]() *Builder[N] {
	return &Builder[N]{}
}

// AddLines appends data as a fragment called name. A trailing newline is
// added when data does not already end with one.
func (b *Builder[N]) AddLines(name N, data string) *Builder[N] {
	b.slices = append(b.slices, Slice[N]{
		Name:       name,
		Offset:     b.buf.Len(),
		Size:       len(data),
		LineOffset: b.lines,
	})

	b.buf.WriteString(data)
	b.countLines(data)

	if !strings.HasSuffix(data, "\n") {
		b.buf.WriteByte('\n')
		b.countLines("\n")
	}

	return b
}

// countLines counts "\r\n", "\r" and "\n" as one terminator each, carrying a
// pending carriage return across calls.
func (b *Builder[N]) countLines(data string) {
	for i := 0; i < len(data); i++ {
		switch data[i] {
		case '\r':
			if b.pendingCR {
				b.lines++
			}
			b.pendingCR = true
		case '\n':
			b.lines++
			b.pendingCR = false
		default:
			if b.pendingCR {
				b.lines++
				b.pendingCR = false
			}
		}
	}
}

// Done returns the combined text and its map, and resets the builder.
func (b *Builder[N]) Done() (string, *SourceMap[N]) {
	text := b.buf.String()
	m := &SourceMap[N]{slices: b.slices}

	b.buf.Reset()
	b.slices = nil
	b.lines = 0
	b.pendingCR = false

	return text, m
}

// SourceMap resolves offsets in a combined buffer to their fragments.
type SourceMap[N any] struct {
	slices []Slice[N]
}

// Slices returns the recorded slices in buffer order.
func (m *SourceMap[N]) Slices() []Slice[N] {
	return m.slices
}

// TranslateRange returns the fragment containing start and the offset of
// start relative to that fragment. The range must not run past the
// fragment's original data.
func (m *SourceMap[N]) TranslateRange(start, end int) (N, int, error) {
	s, ok := m.find(start)
	if !ok || end-s.Offset > s.Size {
		var zero N
		return zero, 0, fmt.Errorf("%w: [%d, %d)", ErrLookup, start, end)
	}

	return s.Name, start - s.Offset, nil
}

// Lookup returns the slice containing start, if any.
func (m *SourceMap[N]) Lookup(start int) (Slice[N], bool) {
	return m.find(start)
}

// find returns the last slice whose offset is <= start. Offsets are
// non-decreasing, so the last match wins for empty fragments sharing an offset.
func (m *SourceMap[N]) find(start int) (Slice[N], bool) {
	i := sort.Search(len(m.slices), func(i int) bool {
		return m.slices[i].Offset > start
	})
	if i == 0 {
		return Slice[N]{}, false
	}

	return m.slices[i-1], true
}
