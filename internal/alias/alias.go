// Package alias discovers an alternate listing URL by searching the publishing
// platform for the listing's item slug.
package alias

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/url"
	"regexp"
	"sort"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/JakeFAU/license-resolver/internal/catalog"
	"github.com/JakeFAU/license-resolver/internal/fetcher"
)

// DefaultEndpoint is the platform search page.
const DefaultEndpoint = "https://bandcamp.com/search"

// Sentinel results for a search that cannot name exactly one candidate.
var (
	ErrNotFound  = errors.New("alias not found")
	ErrAmbiguous = errors.New("alias ambiguous")
)

// Fetcher is the subset of the retrying fetcher the finder needs.
type Fetcher interface {
	Fetch(ctx context.Context, url string) fetcher.Response
}

// Finder searches for alternate listing URLs.
type Finder struct {
	endpoint string
	fetcher  Fetcher
}

// New builds a Finder. An empty endpoint selects DefaultEndpoint.
func New(endpoint string, f Fetcher) *Finder {
	if endpoint == "" {
		endpoint = DefaultEndpoint
	}
	return &Finder{endpoint: endpoint, fetcher: f}
}

// Query derives the search terms for a listing: the account name and the item
// slug with hyphens as spaces.
func Query(listingURL string) string {
	terms := []string{catalog.Account(listingURL)}
	if slug := catalog.ItemSlug(listingURL); slug != "" {
		terms = append(terms, strings.ReplaceAll(slug, "-", " "))
	}
	return strings.TrimSpace(strings.Join(terms, " "))
}

// SearchURL builds the album search URL for a listing.
func (f *Finder) SearchURL(listingURL string) string {
	return f.endpoint + "?q=" + url.QueryEscape(Query(listingURL)) + "&item_type=a"
}

// Find returns the one album link in the search results whose item slug
// matches the listing's. Zero matches is ErrNotFound; several distinct
// matches is ErrAmbiguous.
func (f *Finder) Find(ctx context.Context, listingURL string) (string, error) {
	slug := catalog.ItemSlug(listingURL)
	if slug == "" {
		return "", ErrNotFound
	}
	searchURL := f.SearchURL(listingURL)
	resp := f.fetcher.Fetch(ctx, searchURL)
	if resp.Err != "" {
		return "", fmt.Errorf("alias search: %s", resp.Err)
	}
	if !resp.OK() {
		return "", fmt.Errorf("alias search: http_%d", resp.Status)
	}

	candidates, err := AlbumLinks(resp.Body, searchURL)
	if err != nil {
		return "", err
	}
	var matches []string
	for _, c := range candidates {
		if catalog.ItemSlug(c) == slug {
			matches = append(matches, c)
		}
	}
	switch len(matches) {
	case 0:
		return "", ErrNotFound
	case 1:
		return matches[0], nil
	default:
		return "", fmt.Errorf("%w: %s", ErrAmbiguous, strings.Join(matches, ", "))
	}
}

var albumPath = regexp.MustCompile(`^/album/[^/]+/?$`)

// AlbumLinks collects the distinct, normalized album links in a results page.
// Relative links resolve against base.
func AlbumLinks(page []byte, base string) ([]string, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(page))
	if err != nil {
		return nil, fmt.Errorf("parse search results: %w", err)
	}
	baseURL, err := url.Parse(base)
	if err != nil {
		return nil, fmt.Errorf("parse search url: %w", err)
	}

	seen := make(map[string]struct{})
	doc.Find("a[href]").Each(func(_ int, a *goquery.Selection) {
		href, _ := a.Attr("href")
		ref, err := url.Parse(strings.TrimSpace(href))
		if err != nil {
			return
		}
		abs := baseURL.ResolveReference(ref)
		if !albumPath.MatchString(abs.Path) {
			return
		}
		seen[catalog.NormalizeURL(abs.String())] = struct{}{}
	})

	out := make([]string, 0, len(seen))
	for link := range seen {
		out = append(out, link)
	}
	sort.Strings(out)
	return out, nil
}
