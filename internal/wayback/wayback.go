// Package wayback finds archived snapshots through the Wayback Machine
// availability API.
package wayback

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"regexp"
	"strconv"

	"github.com/JakeFAU/license-resolver/internal/fetcher"
)

// DefaultEndpoint is the public availability API.
const DefaultEndpoint = "https://archive.org/wayback/available"

// ErrNoSnapshot means the archive holds no usable snapshot.
var ErrNoSnapshot = errors.New("no archived snapshot")

// Fetcher is the subset of the retrying fetcher the client needs.
type Fetcher interface {
	Fetch(ctx context.Context, url string) fetcher.Response
}

// Snapshot is an archived copy of a page.
type Snapshot struct {
	URL       string
	RawURL    string
	Timestamp string
}

type availability struct {
	ArchivedSnapshots struct {
		Closest *struct {
			Status    string `json:"status"`
			Available bool   `json:"available"`
			URL       string `json:"url"`
			Timestamp string `json:"timestamp"`
		} `json:"closest"`
	} `json:"archived_snapshots"`
}

// Client queries the availability API.
type Client struct {
	endpoint string
	fetcher  Fetcher
}

// New builds a Client. An empty endpoint selects DefaultEndpoint.
func New(endpoint string, f Fetcher) *Client {
	if endpoint == "" {
		endpoint = DefaultEndpoint
	}
	return &Client{endpoint: endpoint, fetcher: f}
}

// Closest returns the closest available snapshot of pageURL that was archived
// with a 2xx status.
func (c *Client) Closest(ctx context.Context, pageURL string) (Snapshot, error) {
	query := c.endpoint + "?url=" + url.QueryEscape(pageURL)
	resp := c.fetcher.Fetch(ctx, query)
	if resp.Err != "" {
		return Snapshot{}, fmt.Errorf("wayback lookup: %s", resp.Err)
	}
	if !resp.OK() {
		return Snapshot{}, fmt.Errorf("wayback lookup: http_%d", resp.Status)
	}

	var body availability
	if err := json.Unmarshal(resp.Body, &body); err != nil {
		return Snapshot{}, fmt.Errorf("decode wayback availability: %w", err)
	}
	closest := body.ArchivedSnapshots.Closest
	if closest == nil || !closest.Available || closest.URL == "" {
		return Snapshot{}, ErrNoSnapshot
	}
	if status, err := strconv.Atoi(closest.Status); err != nil || status < 200 || status >= 300 {
		return Snapshot{}, ErrNoSnapshot
	}
	return Snapshot{
		URL:       closest.URL,
		RawURL:    RawURL(closest.URL),
		Timestamp: closest.Timestamp,
	}, nil
}

var timestampSegment = regexp.MustCompile(`/web/(\d{14})/`)

// RawURL rewrites a snapshot URL to its "id_" form, which serves the archived
// bytes without the archive's toolbar markup.
func RawURL(snapshotURL string) string {
	return timestampSegment.ReplaceAllString(snapshotURL, "/web/${1}id_/")
}
