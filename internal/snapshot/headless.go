package snapshot

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"

	"github.com/notionviews/agent/internal/tracking"
)

// HeadlessConfig controls the chromedp-backed fetcher.
type HeadlessConfig struct {
	// RemoteURL attaches to an already-running browser over the DevTools
	// protocol; empty launches a dedicated headless instance.
	RemoteURL         string
	MaxParallel       int
	UserAgent         string
	NavigationTimeout time.Duration
}

// HeadlessFetcher renders pages with Chrome via chromedp and returns the DOM
// after the app has had a chance to settle.
type HeadlessFetcher struct {
	cfg         HeadlessConfig
	limiter     chan struct{}
	allocator   context.Context
	allocCancel context.CancelFunc
}

// NewHeadless creates a fetcher backed by chromedp.
func NewHeadless(cfg HeadlessConfig) (*HeadlessFetcher, error) {
	if cfg.MaxParallel < 0 {
		return nil, fmt.Errorf("max parallel must be >= 0")
	}
	if cfg.NavigationTimeout <= 0 {
		cfg.NavigationTimeout = 30 * time.Second
	}
	var limiter chan struct{}
	if cfg.MaxParallel > 0 {
		limiter = make(chan struct{}, cfg.MaxParallel)
	}

	var (
		allocCtx    context.Context
		allocCancel context.CancelFunc
	)
	if cfg.RemoteURL != "" {
		allocCtx, allocCancel = chromedp.NewRemoteAllocator(context.Background(), cfg.RemoteURL)
	} else {
		opts := append(chromedp.DefaultExecAllocatorOptions[:],
			chromedp.Flag("headless", "new"),
			chromedp.Flag("disable-gpu", true),
			chromedp.Flag("hide-scrollbars", true),
		)
		if cfg.UserAgent != "" {
			opts = append(opts, chromedp.UserAgent(cfg.UserAgent))
		}
		allocCtx, allocCancel = chromedp.NewExecAllocator(context.Background(), opts...)
	}

	return &HeadlessFetcher{
		cfg:         cfg,
		limiter:     limiter,
		allocator:   allocCtx,
		allocCancel: allocCancel,
	}, nil
}

// Close cancels the allocator context.
func (f *HeadlessFetcher) Close() {
	f.allocCancel()
}

// Fetch navigates a fresh tab and returns the fully rendered DOM.
func (f *HeadlessFetcher) Fetch(ctx context.Context, url string) (tracking.Snapshot, error) {
	if err := f.acquire(ctx); err != nil {
		return tracking.Snapshot{}, err
	}
	defer f.release()

	tabCtx, tabCancel := chromedp.NewContext(f.allocator)
	defer tabCancel()

	taskCtx, cancel := context.WithTimeout(tabCtx, f.cfg.NavigationTimeout)
	defer cancel()

	stopForward := forwardCancel(ctx, cancel)
	defer stopForward()

	meta := newResponseMeta()
	chromedp.ListenTarget(taskCtx, meta.captureEvent)

	start := time.Now()
	var (
		html     string
		finalURL string
	)
	actions := []chromedp.Action{
		network.Enable(),
		chromedp.Navigate(url),
		chromedp.WaitReady("body", chromedp.ByQuery),
		chromedp.Sleep(500 * time.Millisecond),
		chromedp.Location(&finalURL),
		chromedp.OuterHTML("html", &html, chromedp.ByQuery),
	}
	if err := chromedp.Run(taskCtx, actions...); err != nil {
		return tracking.Snapshot{}, fmt.Errorf("chromedp run: %w", err)
	}

	status := meta.status()
	if status == 0 {
		status = 200
	}
	return tracking.Snapshot{
		URL:          url,
		FinalURL:     finalURL,
		StatusCode:   status,
		Body:         []byte(html),
		Duration:     time.Since(start),
		UsedHeadless: true,
	}, nil
}

// CaptureTarget grabs the current DOM of an existing target without
// navigating, used by the navigation observer.
func (f *HeadlessFetcher) CaptureTarget(ctx context.Context, tabCtx context.Context) (tracking.Snapshot, error) {
	taskCtx, cancel := context.WithTimeout(tabCtx, f.cfg.NavigationTimeout)
	defer cancel()

	stopForward := forwardCancel(ctx, cancel)
	defer stopForward()

	start := time.Now()
	var (
		html     string
		location string
	)
	actions := []chromedp.Action{
		chromedp.Location(&location),
		chromedp.OuterHTML("html", &html, chromedp.ByQuery),
	}
	if err := chromedp.Run(taskCtx, actions...); err != nil {
		return tracking.Snapshot{}, fmt.Errorf("capture target: %w", err)
	}
	return tracking.Snapshot{
		URL:          location,
		StatusCode:   200,
		Body:         []byte(html),
		Duration:     time.Since(start),
		UsedHeadless: true,
	}, nil
}

// Allocator exposes the browser allocator context for the observer.
func (f *HeadlessFetcher) Allocator() context.Context {
	return f.allocator
}

func (f *HeadlessFetcher) acquire(ctx context.Context) error {
	if f.limiter == nil {
		return nil
	}
	select {
	case f.limiter <- struct{}{}:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("acquire render slot: %w", ctx.Err())
	}
}

func (f *HeadlessFetcher) release() {
	if f.limiter != nil {
		<-f.limiter
	}
}

type responseMeta struct {
	mu         sync.Mutex
	statusCode int
}

func newResponseMeta() *responseMeta {
	return &responseMeta{}
}

func (m *responseMeta) captureEvent(ev interface{}) {
	resp, ok := ev.(*network.EventResponseReceived)
	if !ok || resp.Type != network.ResourceTypeDocument {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.statusCode == 0 {
		m.statusCode = int(resp.Response.Status)
	}
}

func (m *responseMeta) status() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.statusCode
}

func forwardCancel(parent context.Context, cancel context.CancelFunc) func() {
	if parent == nil {
		return func() {}
	}
	done := make(chan struct{})
	go func() {
		select {
		case <-parent.Done():
			cancel()
		case <-done:
		}
	}()
	return func() { close(done) }
}
