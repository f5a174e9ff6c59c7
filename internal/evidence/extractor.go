// Package evidence finds license signals in fetched pages and reconciles them
// into at most one category decision.
package evidence

// Evidence holds the candidate ids produced by each strategy.
type Evidence map[Kind]IDSet

// Get returns the set produced by kind, or an empty set.
func (e Evidence) Get(kind Kind) IDSet {
	if s, ok := e[kind]; ok {
		return s
	}
	return IDSet{}
}

// Any reports whether some strategy produced at least one id.
func (e Evidence) Any() bool {
	for _, s := range e {
		if s.Len() > 0 {
			return true
		}
	}
	return false
}

// Summary renders the candidates per strategy, keyed by kind.
func (e Evidence) Summary() map[string][]int {
	out := make(map[string][]int, len(e))
	for kind, s := range e {
		if s.Len() > 0 {
			out[string(kind)] = s.Sorted()
		}
	}
	return out
}

// Extractor runs every configured strategy over a page.
type Extractor struct {
	strategies []Strategy
}

// NewExtractor builds an extractor with the three built-in strategies plus any extras.
func NewExtractor(c *Catalog, extra ...Strategy) *Extractor {
	strategies := []Strategy{NewTypeMarker(c), NewSectionLink(c), NewNameMarker(c)}
	return &Extractor{strategies: append(strategies, extra...)}
}

// Extract runs each strategy independently.
func (x *Extractor) Extract(page []byte) Evidence {
	ev := make(Evidence, len(x.strategies))
	for _, s := range x.strategies {
		ev[s.Kind()] = Union(ev[s.Kind()], s.Extract(page))
	}
	return ev
}
