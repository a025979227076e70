// Package snapshot captures page DOM through plain HTTP or headless Chrome.
package snapshot

import (
	"context"
	"fmt"
	"time"

	"github.com/gocolly/colly/v2"

	"github.com/notionviews/agent/internal/tracking"
)

// CollyConfig controls the plain-HTTP probe fetcher.
type CollyConfig struct {
	UserAgent string
	Timeout   time.Duration
}

// CollyFetcher implements tracking.SnapshotFetcher with a Colly collector.
// It is the cheap probe; Notion's app shell renders client-side, so its
// output usually only feeds the JS-need detector.
type CollyFetcher struct {
	cfg           CollyConfig
	baseCollector *colly.Collector
}

// NewColly builds a CollyFetcher.
func NewColly(cfg CollyConfig) *CollyFetcher {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	c := colly.NewCollector(colly.Async(false))
	c.IgnoreRobotsTxt = true // app pages, not crawl targets
	if cfg.UserAgent != "" {
		c.UserAgent = cfg.UserAgent
	}
	c.SetRequestTimeout(cfg.Timeout)
	return &CollyFetcher{cfg: cfg, baseCollector: c}
}

// Fetch executes a single HTTP GET and returns the raw body.
func (f *CollyFetcher) Fetch(ctx context.Context, url string) (tracking.Snapshot, error) {
	var (
		result   tracking.Snapshot
		fetchErr error
	)
	start := time.Now()

	collector := f.baseCollector.Clone()
	collector.OnResponse(func(r *colly.Response) {
		result = tracking.Snapshot{
			URL:        url,
			FinalURL:   r.Request.URL.String(),
			StatusCode: r.StatusCode,
			Body:       append([]byte(nil), r.Body...),
			Duration:   time.Since(start),
		}
	})
	collector.OnError(func(r *colly.Response, err error) {
		if r != nil && r.StatusCode > 0 {
			result = tracking.Snapshot{
				URL:        url,
				StatusCode: r.StatusCode,
				Body:       append([]byte(nil), r.Body...),
				Duration:   time.Since(start),
			}
			return
		}
		fetchErr = err
	})

	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := collector.Visit(url); err != nil && fetchErr == nil {
			fetchErr = err
		}
		collector.Wait()
	}()
	select {
	case <-ctx.Done():
		return tracking.Snapshot{}, fmt.Errorf("probe fetch canceled: %w", ctx.Err())
	case <-done:
	}

	if fetchErr != nil {
		return tracking.Snapshot{}, fmt.Errorf("probe fetch: %w", fetchErr)
	}
	if result.StatusCode == 0 {
		return tracking.Snapshot{}, fmt.Errorf("probe fetch: no response for %s", url)
	}
	return result, nil
}
