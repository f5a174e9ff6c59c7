package evidence

import (
	"bytes"
	"html"
	"regexp"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// Kind names an extraction strategy.
type Kind string

// Built-in strategy kinds.
const (
	KindTypeMarker  Kind = "type_marker"
	KindSectionLink Kind = "section_link"
	KindNameMarker  Kind = "name_marker"
)

// Strategy finds candidate category ids in a page. Implementations must be
// safe for concurrent use.
type Strategy interface {
	Kind() Kind
	Extract(page []byte) IDSet
}

var typeMarkerPattern = regexp.MustCompile(`license_type["']?\s*[:=]\s*["']?(\d{1,3})`)

// TypeMarker reads the numeric license marker embedded in page metadata,
// either raw or HTML-entity encoded inside an attribute.
type TypeMarker struct {
	catalog *Catalog
}

// NewTypeMarker builds the type-marker strategy.
func NewTypeMarker(c *Catalog) *TypeMarker {
	return &TypeMarker{catalog: c}
}

// Kind implements Strategy.
func (s *TypeMarker) Kind() Kind { return KindTypeMarker }

// Extract implements Strategy.
func (s *TypeMarker) Extract(page []byte) IDSet {
	out := make(IDSet)
	text := html.UnescapeString(string(page))
	for _, m := range typeMarkerPattern.FindAllStringSubmatch(text, -1) {
		id, err := strconv.Atoi(m[1])
		if err != nil {
			continue
		}
		if s.catalog.Known(id) {
			out.Add(id)
		}
	}
	return out
}

const licenseSectionSelector = "#license, .license, [class*='license'], [id*='license']"

var licenseHrefPattern = regexp.MustCompile(`/licenses/([A-Za-z-]+)/(\d+(?:\.\d+)?)/?`)

// SectionLink reads Creative Commons anchors inside the page's license section.
type SectionLink struct {
	catalog *Catalog
}

// NewSectionLink builds the section-link strategy.
func NewSectionLink(c *Catalog) *SectionLink {
	return &SectionLink{catalog: c}
}

// Kind implements Strategy.
func (s *SectionLink) Kind() Kind { return KindSectionLink }

// Extract implements Strategy.
func (s *SectionLink) Extract(page []byte) IDSet {
	out := make(IDSet)
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(page))
	if err != nil {
		return out
	}
	sections := doc.Find(licenseSectionSelector)
	anchors := sections.Filter("a[href]").AddSelection(sections.Find("a[href]"))
	anchors.Each(func(_ int, a *goquery.Selection) {
		href, _ := a.Attr("href")
		slug, _, ok := ParseLicenseHref(href)
		if !ok {
			return
		}
		if id, found := s.catalog.Lookup(slug); found {
			out.Add(id)
		}
	})
	return out
}

// ParseLicenseHref extracts the normalized slug and version from a license URL
// shaped like ".../licenses/<slug>/<version>/".
func ParseLicenseHref(href string) (slug, version string, ok bool) {
	m := licenseHrefPattern.FindStringSubmatch(href)
	if m == nil {
		return "", "", false
	}
	slug, ok = CanonicalSlug(m[1])
	if !ok {
		return "", "", false
	}
	version = m[2]
	if !strings.Contains(version, ".") {
		version += ".0"
	}
	return slug, version, true
}

var (
	slugTokenPattern = regexp.MustCompile(`\bcc-by(?:-(?:nc|nd|sa))*\b`)
	longFormPattern  = regexp.MustCompile(
		`(creative\s+commons\s+)?attribution((?:[\s-]+(?:non[\s-]?commercial|no[\s-]?deriv(?:ative)?s|share[\s-]?alike))*)`,
	)
)

// NameMarker reads canonical slug tokens and long-form license names from page text.
type NameMarker struct {
	catalog *Catalog
}

// NewNameMarker builds the name-marker strategy.
func NewNameMarker(c *Catalog) *NameMarker {
	return &NameMarker{catalog: c}
}

// Kind implements Strategy.
func (s *NameMarker) Kind() Kind { return KindNameMarker }

// Extract implements Strategy.
func (s *NameMarker) Extract(page []byte) IDSet {
	out := make(IDSet)
	text := strings.ToLower(html.UnescapeString(string(page)))
	for _, token := range slugTokenPattern.FindAllString(text, -1) {
		if id, ok := s.catalog.Lookup(token); ok {
			out.Add(id)
		}
	}
	for _, m := range longFormPattern.FindAllStringSubmatch(text, -1) {
		// A bare "attribution" needs the "creative commons" prefix or at least one qualifier term.
		if m[1] == "" && m[2] == "" {
			continue
		}
		if id, ok := s.catalog.Lookup("attribution" + m[2]); ok {
			out.Add(id)
		}
	}
	return out
}
