package consensus

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/license-resolver/internal/catalog"
)

func known(ids ...int) map[int]struct{} {
	out := make(map[int]struct{}, len(ids))
	for _, id := range ids {
		out[id] = struct{}{}
	}
	return out
}

// domainListings returns majority listings with id and the rest with other.
func domainListings(host string, total, majority, id, other int) []catalog.Listing {
	out := make([]catalog.Listing, 0, total)
	for i := range total {
		lic := other
		if i < majority {
			lic = id
		}
		out = append(out, catalog.Listing{
			URLID:   fmt.Sprintf("%s-%d", host, i),
			URL:     fmt.Sprintf("https://%s/album/a%d", host, i),
			License: &lic,
		})
	}
	return out
}

func TestDecideGatesOnSampleSize(t *testing.T) {
	t.Parallel()

	table := Build(domainListings("pure.bandcamp.com", 15, 15, 3, 0), known(3))
	entry, ok := table.Lookup("pure.bandcamp.com")
	require.True(t, ok)
	require.Equal(t, 15, entry.Known)
	require.InDelta(t, 1.0, entry.Purity, 1e-9)

	_, ok = table.Decide("pure.bandcamp.com", 20, 0.95)
	require.False(t, ok)

	entry, ok = table.Decide("pure.bandcamp.com", 10, 0.95)
	require.True(t, ok)
	require.Equal(t, 3, entry.Majority)
}

func TestDecideGatesOnPurity(t *testing.T) {
	t.Parallel()

	listings := domainListings("mixed.bandcamp.com", 25, 23, 4, 6)
	table := Build(listings, known(4, 6))

	entry, ok := table.Decide("mixed.bandcamp.com", 20, 0.9)
	require.True(t, ok)
	require.Equal(t, 4, entry.Majority)
	require.Equal(t, 23, entry.MajorityCount)
	require.InDelta(t, 0.92, entry.Purity, 1e-9)

	_, ok = table.Decide("mixed.bandcamp.com", 20, 0.95)
	require.False(t, ok)
	_, ok = table.Decide("unknown.bandcamp.com", 1, 0)
	require.False(t, ok)
}

func TestBuildSkipsUnresolvedAndUnknownLicenses(t *testing.T) {
	t.Parallel()

	unknownID := 99
	listings := append(domainListings("x.bandcamp.com", 2, 2, 1, 0),
		catalog.Listing{URLID: "u", URL: "https://x.bandcamp.com/album/u"},
		catalog.Listing{URLID: "k", URL: "https://x.bandcamp.com/album/k", License: &unknownID},
	)
	table := Build(listings, known(1))
	entry, ok := table.Lookup("x.bandcamp.com")
	require.True(t, ok)
	require.Equal(t, 2, entry.Known)
	require.Equal(t, 1, table.Len())
}

func TestBuildBreaksTiesTowardLowerID(t *testing.T) {
	t.Parallel()

	table := Build(domainListings("tie.bandcamp.com", 4, 2, 7, 2), known(2, 7))
	entry, ok := table.Lookup("tie.bandcamp.com")
	require.True(t, ok)
	require.Equal(t, 2, entry.Majority)
	require.InDelta(t, 0.5, entry.Purity, 1e-9)
}
