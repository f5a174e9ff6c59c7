package evidence

import (
	"strings"

	"github.com/JakeFAU/license-resolver/internal/catalog"
)

// Canonical short terms, in the order they appear in a license slug.
var termOrder = []string{"by", "nc", "nd", "sa"}

var termAliases = map[string]string{
	"by":              "by",
	"attribution":     "by",
	"nc":              "nc",
	"noncommercial":   "nc",
	"nd":              "nd",
	"noderivs":        "nd",
	"noderivatives":   "nd",
	"sa":              "sa",
	"sharealike":      "sa",
	"cc":              "",
	"creativecommons": "",
}

var phraseJoins = strings.NewReplacer(
	"creative commons", "creativecommons",
	"non-commercial", "noncommercial",
	"non commercial", "noncommercial",
	"share-alike", "sharealike",
	"share alike", "sharealike",
	"no-derivatives", "noderivatives",
	"no derivatives", "noderivatives",
	"no-derivs", "noderivs",
	"no derivs", "noderivs",
)

// CanonicalSlug normalizes a short slug ("by-nc-sa"), a prefixed token
// ("cc-by-nc-sa") or a long-form name ("Attribution-NonCommercial-ShareAlike")
// to the ordered short form. It fails on unknown terms or a missing "by".
func CanonicalSlug(raw string) (string, bool) {
	normalized := phraseJoins.Replace(strings.ToLower(strings.TrimSpace(raw)))
	fields := strings.FieldsFunc(normalized, func(r rune) bool {
		return r == '-' || r == '_' || r == ' ' || r == '/'
	})
	seen := make(map[string]bool, len(termOrder))
	for _, field := range fields {
		term, ok := termAliases[field]
		if !ok {
			return "", false
		}
		if term != "" {
			seen[term] = true
		}
	}
	if !seen["by"] {
		return "", false
	}
	parts := make([]string, 0, len(seen))
	for _, term := range termOrder {
		if seen[term] {
			parts = append(parts, term)
		}
	}
	return strings.Join(parts, "-"), true
}

// Catalog maps normalized slugs to known category ids.
type Catalog struct {
	known  IDSet
	bySlug map[string]int
}

// NewCatalog indexes the license categories. Names that are not Creative
// Commons slugs stay reachable by id only.
func NewCatalog(licenses []catalog.License) *Catalog {
	c := &Catalog{known: make(IDSet, len(licenses)), bySlug: make(map[string]int, len(licenses))}
	for _, lic := range licenses {
		c.known.Add(lic.BCID)
		if slug, ok := CanonicalSlug(lic.Name); ok {
			if _, dup := c.bySlug[slug]; !dup {
				c.bySlug[slug] = lic.BCID
			}
		}
	}
	return c
}

// Known reports whether id is a known category.
func (c *Catalog) Known(id int) bool {
	return c.known.Has(id)
}

// Lookup maps any slug form to a category id.
func (c *Catalog) Lookup(raw string) (int, bool) {
	slug, ok := CanonicalSlug(raw)
	if !ok {
		return 0, false
	}
	id, ok := c.bySlug[slug]
	return id, ok
}
