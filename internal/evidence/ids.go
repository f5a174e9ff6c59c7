package evidence

import (
	"slices"
)

// IDSet is a deduplicated set of license category ids.
type IDSet map[int]struct{}

// NewIDSet builds a set from ids.
func NewIDSet(ids ...int) IDSet {
	s := make(IDSet, len(ids))
	for _, id := range ids {
		s[id] = struct{}{}
	}
	return s
}

// Add inserts id.
func (s IDSet) Add(id int) {
	s[id] = struct{}{}
}

// Has reports membership.
func (s IDSet) Has(id int) bool {
	_, ok := s[id]
	return ok
}

// Len returns the number of ids in the set. A nil set is empty.
func (s IDSet) Len() int {
	return len(s)
}

// Single returns the only id when the set has exactly one.
func (s IDSet) Single() (int, bool) {
	if len(s) != 1 {
		return 0, false
	}
	for id := range s {
		return id, true
	}
	return 0, false
}

// Sorted returns the ids in ascending order.
func (s IDSet) Sorted() []int {
	out := make([]int, 0, len(s))
	for id := range s {
		out = append(out, id)
	}
	slices.Sort(out)
	return out
}

// Union returns a new set holding every id of every input.
func Union(sets ...IDSet) IDSet {
	out := make(IDSet)
	for _, s := range sets {
		for id := range s {
			out[id] = struct{}{}
		}
	}
	return out
}
