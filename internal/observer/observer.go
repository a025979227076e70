// Package observer watches an attached browser for page navigations and
// feeds settled snapshots into the tracker.
package observer

import (
	"context"
	"net/url"
	"sync"
	"time"

	"github.com/chromedp/cdproto/target"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/notionviews/agent/internal/metrics"
	"github.com/notionviews/agent/internal/snapshot"
	"github.com/notionviews/agent/internal/tracker"
	"github.com/notionviews/agent/internal/tracking"
)

// Config controls the navigation observer.
type Config struct {
	// SettleDelay is how long a URL must stay stable before the DOM is
	// captured. Notion renders collection content well after the URL flips.
	SettleDelay time.Duration
	// InPageSettleDelay applies to transitions where only the query or
	// fragment moved; peek renders arrive later than full navigations.
	InPageSettleDelay time.Duration
	// InitialScan checks the pages already open when the observer attaches.
	InitialScan bool
}

// Observer subscribes to DevTools target events on a running browser. Every
// page-target URL change is debounced, snapshotted in place and handed to
// the tracker with the trigger that caused it.
type Observer struct {
	cfg     Config
	fetcher *snapshot.HeadlessFetcher
	trk     *tracker.Tracker
	hostOK  func(string) bool
	logger  *zap.Logger

	mu         sync.Mutex
	browserCtx context.Context
	lastURL    map[target.ID]string
	timers     map[target.ID]*time.Timer

	// replaced in tests to observe scheduling without a browser
	capture func(ctx context.Context, id target.ID, url string, trig tracking.Trigger)
}

// New constructs an Observer. hostOK filters which URLs are worth a DOM
// capture at all; pass the classifier's host check.
func New(cfg Config, fetcher *snapshot.HeadlessFetcher, trk *tracker.Tracker, hostOK func(string) bool, logger *zap.Logger) *Observer {
	if cfg.SettleDelay <= 0 {
		cfg.SettleDelay = 1500 * time.Millisecond
	}
	if cfg.InPageSettleDelay <= 0 {
		cfg.InPageSettleDelay = 2 * cfg.SettleDelay
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	o := &Observer{
		cfg:     cfg,
		fetcher: fetcher,
		trk:     trk,
		hostOK:  hostOK,
		logger:  logger,
		lastURL: make(map[target.ID]string),
		timers:  make(map[target.ID]*time.Timer),
	}
	o.capture = o.captureAndCheck
	return o
}

// Run attaches to the browser and blocks until ctx is canceled.
func (o *Observer) Run(ctx context.Context) error {
	browserCtx, cancel := chromedp.NewContext(o.fetcher.Allocator())
	defer cancel()

	// Establish the browser connection before wiring listeners.
	if err := chromedp.Run(browserCtx); err != nil {
		return err
	}
	o.mu.Lock()
	o.browserCtx = browserCtx
	o.mu.Unlock()

	chromedp.ListenBrowser(browserCtx, func(ev interface{}) {
		o.handleEvent(ctx, ev)
	})

	if err := chromedp.Run(browserCtx, chromedp.ActionFunc(func(c context.Context) error {
		return target.SetDiscoverTargets(true).Do(c)
	})); err != nil {
		return err
	}

	if o.cfg.InitialScan {
		o.scanOpenTargets(ctx, browserCtx)
	}

	o.logger.Info("observer attached", zap.Duration("settle_delay", o.cfg.SettleDelay))
	<-ctx.Done()
	o.stopTimers()
	return ctx.Err()
}

func (o *Observer) handleEvent(ctx context.Context, ev interface{}) {
	switch e := ev.(type) {
	case *target.EventTargetCreated:
		if e.TargetInfo.Type == "page" {
			o.noteURL(ctx, e.TargetInfo.TargetID, e.TargetInfo.URL)
		}
	case *target.EventTargetInfoChanged:
		if e.TargetInfo.Type == "page" {
			o.noteURL(ctx, e.TargetInfo.TargetID, e.TargetInfo.URL)
		}
	case *target.EventTargetDestroyed:
		o.forget(e.TargetID)
	}
}

func (o *Observer) scanOpenTargets(ctx context.Context, browserCtx context.Context) {
	infos, err := chromedp.Targets(browserCtx)
	if err != nil {
		o.logger.Warn("list open targets failed", zap.Error(err))
		return
	}
	for _, info := range infos {
		if info.Type != "page" {
			continue
		}
		o.noteURL(ctx, info.TargetID, info.URL)
	}
}

// noteURL records a target's current URL and, when it changed, schedules a
// debounced capture. A burst of changes for the same target keeps resetting
// the timer, so only the URL that settles gets snapshotted.
func (o *Observer) noteURL(ctx context.Context, id target.ID, rawURL string) {
	if rawURL == "" || rawURL == "about:blank" {
		return
	}

	o.mu.Lock()
	prev, known := o.lastURL[id]
	if known && prev == rawURL {
		o.mu.Unlock()
		return
	}
	o.lastURL[id] = rawURL
	trig := classifyChange(prev, rawURL, known)

	if o.hostOK != nil && !o.hostOK(rawURL) {
		if t := o.timers[id]; t != nil {
			t.Stop()
			delete(o.timers, id)
		}
		o.mu.Unlock()
		return
	}

	if t := o.timers[id]; t != nil {
		t.Stop()
	}
	delay := o.cfg.SettleDelay
	if trig == tracking.TriggerInPage {
		delay = o.cfg.InPageSettleDelay
	}
	o.timers[id] = time.AfterFunc(delay, func() {
		if !o.stillCurrent(id, rawURL) {
			return
		}
		o.capture(ctx, id, rawURL, trig)
	})
	o.mu.Unlock()
}

func (o *Observer) stillCurrent(id target.ID, rawURL string) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.lastURL[id] == rawURL
}

func (o *Observer) forget(id target.ID) {
	o.mu.Lock()
	defer o.mu.Unlock()
	delete(o.lastURL, id)
	if t := o.timers[id]; t != nil {
		t.Stop()
		delete(o.timers, id)
	}
}

func (o *Observer) stopTimers() {
	o.mu.Lock()
	defer o.mu.Unlock()
	for id, t := range o.timers {
		t.Stop()
		delete(o.timers, id)
	}
}

func (o *Observer) captureAndCheck(ctx context.Context, id target.ID, rawURL string, trig tracking.Trigger) {
	o.mu.Lock()
	browserCtx := o.browserCtx
	o.mu.Unlock()
	if browserCtx == nil {
		return
	}
	tabCtx, cancel := chromedp.NewContext(browserCtx, chromedp.WithTargetID(id))
	defer cancel()

	snap, err := o.fetcher.CaptureTarget(ctx, tabCtx)
	if err != nil {
		o.logger.Warn("capture target failed",
			zap.String("target_id", string(id)),
			zap.String("url", rawURL),
			zap.Error(err),
		)
		return
	}
	metrics.ObserveSnapshot("observer")
	if snap.URL == "" {
		snap.URL = rawURL
	}
	o.trk.Check(ctx, snap, trig)
}

// classifyChange names the event path behind a URL change: first sighting,
// a cross-page navigation, or an in-page transition where only the query or
// fragment moved (Notion's peek previews and history pushes).
func classifyChange(prev, next string, known bool) tracking.Trigger {
	if !known {
		return tracking.TriggerInitial
	}
	if samePage(prev, next) {
		return tracking.TriggerInPage
	}
	return tracking.TriggerNavigation
}

func samePage(a, b string) bool {
	ua, err := url.Parse(a)
	if err != nil {
		return false
	}
	ub, err := url.Parse(b)
	if err != nil {
		return false
	}
	return ua.Host == ub.Host && ua.Path == ub.Path
}
