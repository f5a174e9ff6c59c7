// Package collyfetcher implements fetcher.Getter using gocolly.
package collyfetcher

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gocolly/colly/v2"

	"github.com/JakeFAU/license-resolver/internal/fetcher"
)

// Config controls collector behavior.
type Config struct {
	UserAgent string
	Timeout   time.Duration
}

// Getter performs single GETs through a cloned Colly collector.
type Getter struct {
	baseCollector *colly.Collector
}

var _ fetcher.Getter = (*Getter)(nil)

type collectorHooks interface {
	OnResponse(colly.ResponseCallback)
	OnError(colly.ErrorCallback)
}

// New builds a Getter sharing one pooled transport across requests.
func New(cfg Config) *Getter {
	c := colly.NewCollector(
		colly.Async(false),
		colly.AllowURLRevisit(),
		colly.ParseHTTPErrorResponse(),
		colly.IgnoreRobotsTxt(),
	)
	if cfg.UserAgent != "" {
		c.UserAgent = cfg.UserAgent
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 20 * time.Second
	}
	c.SetRequestTimeout(timeout)
	c.WithTransport(newHTTPTransport())

	return &Getter{baseCollector: c}
}

type visitResult struct {
	page fetcher.Page
	err  error
}

// Get executes one HTTP GET. Error statuses come back as pages so callers can
// inspect them; only transport failures are errors.
func (g *Getter) Get(ctx context.Context, url string) (fetcher.Page, error) {
	collector := g.baseCollector.Clone()
	done := make(chan visitResult, 1)

	go func() {
		var (
			page     fetcher.Page
			fetchErr error
		)
		configureCollectorHooks(collector, &page, &fetchErr)
		if err := collector.Visit(url); err != nil && fetchErr == nil && page.Status == 0 {
			fetchErr = err
		}
		done <- visitResult{page: page, err: fetchErr}
	}()

	select {
	case <-ctx.Done():
		return fetcher.Page{}, fmt.Errorf("colly fetch canceled: %w", ctx.Err())
	case res := <-done:
		if res.err != nil {
			return fetcher.Page{}, fmt.Errorf("colly visit failed: %w", res.err)
		}
		return res.page, nil
	}
}

func configureCollectorHooks(hooks collectorHooks, page *fetcher.Page, fetchErr *error) {
	hooks.OnResponse(func(r *colly.Response) {
		*page = fetcher.Page{
			Status:   r.StatusCode,
			FinalURL: r.Request.URL.String(),
			Body:     append([]byte(nil), r.Body...),
		}
	})

	hooks.OnError(func(r *colly.Response, err error) {
		if r != nil && r.StatusCode > 0 {
			*page = fetcher.Page{
				Status:   r.StatusCode,
				FinalURL: r.Request.URL.String(),
				Body:     append([]byte(nil), r.Body...),
			}
			return
		}
		*fetchErr = err
	})
}

func newHTTPTransport() *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   15 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          100,
		MaxIdleConnsPerHost:   8,
		IdleConnTimeout:       90 * time.Second,
	}
}
