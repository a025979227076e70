// Package tracker implements the once-per-lifetime view tracking decision.
package tracker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/notionviews/agent/internal/classifier"
	"github.com/notionviews/agent/internal/metrics"
	"github.com/notionviews/agent/internal/pageid"
	"github.com/notionviews/agent/internal/relay"
	"github.com/notionviews/agent/internal/tracking"
)

// Config controls Tracker behavior.
type Config struct {
	// PublishTopic routes tracked-view events; empty disables publishing.
	PublishTopic string
	// ArchiveMisses stores DOM snapshots that looked like database items but
	// failed every probe, as selector-tuning evidence.
	ArchiveMisses bool
	ArchivePrefix string
}

// Tracker owns the per-lifetime state of the page/session tracker: the
// current settings and the set of page ids already reported. One instance
// exists per agent lifetime; a full restart resets the tracked set.
type Tracker struct {
	mu       sync.Mutex
	settings tracking.Settings
	tracked  map[string]struct{}

	classify  *classifier.Classifier
	relay     tracking.Relay
	store     tracking.SettingsStore
	journal   tracking.Journal
	publisher tracking.Publisher
	archive   tracking.BlobStore
	hasher    tracking.Hasher
	clock     tracking.Clock
	idGen     tracking.IDGenerator
	cfg       Config
	logger    *zap.Logger
}

// New constructs a Tracker. journal, publisher, archive and hasher are
// optional; relay, store, classify, clock and idGen are required.
func New(
	initial tracking.Settings,
	classify *classifier.Classifier,
	rel tracking.Relay,
	store tracking.SettingsStore,
	journal tracking.Journal,
	publisher tracking.Publisher,
	archive tracking.BlobStore,
	hasher tracking.Hasher,
	clock tracking.Clock,
	idGen tracking.IDGenerator,
	cfg Config,
	logger *zap.Logger,
) *Tracker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Tracker{
		settings:  initial,
		tracked:   make(map[string]struct{}),
		classify:  classify,
		relay:     rel,
		store:     store,
		journal:   journal,
		publisher: publisher,
		archive:   archive,
		hasher:    hasher,
		clock:     clock,
		idGen:     idGen,
		cfg:       cfg,
		logger:    logger,
	}
}

// Settings returns a copy of the current settings.
func (t *Tracker) Settings() tracking.Settings {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.settings
}

// UpdateSettings applies a settings-update push. The tracked set survives:
// ids reported under the old settings stay reported for this lifetime.
func (t *Tracker) UpdateSettings(settings tracking.Settings) {
	t.mu.Lock()
	t.settings = settings
	t.mu.Unlock()
	t.relay.SetCredentials(settings.APIEndpoint, settings.APIKey)
	t.logger.Info("settings updated",
		zap.String("endpoint", settings.APIEndpoint),
		zap.Bool("enabled", settings.Enabled),
	)
}

// Seen reports whether a page id was already tracked this lifetime.
func (t *Tracker) Seen(pageID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, seen := t.tracked[pageID]
	return seen
}

// TrackedCount returns the size of the tracked set.
func (t *Tracker) TrackedCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.tracked)
}

// Check runs one tracking decision for a snapshot. At most one increment is
// dispatched per page id per lifetime; the id enters the tracked set before
// the network call so overlapping triggers cannot double-send. A failed
// increment is not retried (the visit's count is lost) and the outcome is
// journaled either way.
func (t *Tracker) Check(ctx context.Context, snap tracking.Snapshot, trigger tracking.Trigger) tracking.CheckOutcome {
	outcome := t.decide(ctx, snap, trigger)
	metrics.ObserveCheck(string(outcome))
	return outcome
}

func (t *Tracker) decide(ctx context.Context, snap tracking.Snapshot, trigger tracking.Trigger) tracking.CheckOutcome {
	url := snap.EffectiveURL()

	t.mu.Lock()
	settings := t.settings
	t.mu.Unlock()
	if !settings.Enabled || settings.APIEndpoint == "" {
		return tracking.OutcomeDisabled
	}

	id, ok := pageid.FromURL(url)
	if !ok {
		return tracking.OutcomeNoPageID
	}

	if !t.classify.IsDatabaseItem(url, snap.Body) {
		t.maybeArchiveMiss(ctx, id, snap)
		return tracking.OutcomeNotDBItem
	}

	// The insertion is the exclusion mechanism: it must happen before the
	// request, not after success, to close the race between overlapping
	// triggers for the same id.
	t.mu.Lock()
	if _, seen := t.tracked[id]; seen {
		t.mu.Unlock()
		return tracking.OutcomeAlreadySeen
	}
	t.tracked[id] = struct{}{}
	count := len(t.tracked)
	t.mu.Unlock()
	metrics.SetTrackedPages(count)

	return t.dispatch(ctx, id, url, settings, trigger)
}

func (t *Tracker) dispatch(
	ctx context.Context,
	id, url string,
	settings tracking.Settings,
	trigger tracking.Trigger,
) tracking.CheckOutcome {
	now := t.clock.Now()
	record := tracking.ViewRecord{
		PageID:     id,
		DatabaseID: settings.DatabaseID,
		URL:        url,
		Trigger:    trigger,
		TrackedAt:  now,
	}
	if t.idGen != nil {
		if recordID, err := t.idGen.NewID(); err == nil {
			record.ID = recordID
		}
	}

	result, err := t.relay.IncrementViews(ctx, id, settings.DatabaseID)
	if err != nil {
		// No retry: the id stays tracked and this visit's increment is lost.
		metrics.ObserveIncrementFailure(failureReason(err))
		record.ErrorText = err.Error()
		t.journalRecord(ctx, record)
		t.logger.Warn("increment failed",
			zap.String("page_id", id),
			zap.String("trigger", string(trigger)),
			zap.Error(err),
		)
		return tracking.OutcomeTrackFailed
	}

	record.OK = true
	record.NewViews = result.NewViews
	metrics.ObserveTracked(string(trigger))
	t.journalRecord(ctx, record)
	t.persistLastTracked(ctx, now)
	t.publish(ctx, record)

	t.logger.Info("view tracked",
		zap.String("page_id", id),
		zap.Int("new_views", result.NewViews),
		zap.String("trigger", string(trigger)),
	)
	return tracking.OutcomeTracked
}

func (t *Tracker) journalRecord(ctx context.Context, record tracking.ViewRecord) {
	if t.journal == nil {
		return
	}
	if err := t.journal.Record(ctx, record); err != nil {
		t.logger.Warn("journal write failed", zap.Error(err))
	}
}

func (t *Tracker) persistLastTracked(ctx context.Context, now time.Time) {
	t.mu.Lock()
	t.settings.LastTracked = now
	settings := t.settings
	t.mu.Unlock()
	if t.store == nil {
		return
	}
	if err := t.store.Save(ctx, settings); err != nil {
		t.logger.Warn("persist last-tracked failed", zap.Error(err))
	}
}

func (t *Tracker) publish(ctx context.Context, record tracking.ViewRecord) {
	if t.publisher == nil || t.cfg.PublishTopic == "" {
		return
	}
	if _, err := t.publisher.Publish(ctx, t.cfg.PublishTopic, record); err != nil {
		t.logger.Warn("publish tracked view failed", zap.Error(err))
	}
}

// maybeArchiveMiss stores the snapshot of a page that carried an id on a
// recognized host yet matched no probe. These are the cases selector tuning
// cares about.
func (t *Tracker) maybeArchiveMiss(ctx context.Context, id string, snap tracking.Snapshot) {
	if !t.cfg.ArchiveMisses || t.archive == nil || t.hasher == nil {
		return
	}
	if !t.classify.HostRecognized(snap.EffectiveURL()) || len(snap.Body) == 0 {
		return
	}
	hash, err := t.hasher.Hash(snap.Body)
	if err != nil {
		return
	}
	path := fmt.Sprintf("%s/%s-%s.html", t.cfg.ArchivePrefix, id, hash[:12])
	if t.cfg.ArchivePrefix == "" {
		path = fmt.Sprintf("%s-%s.html", id, hash[:12])
	}
	uri, err := t.archive.PutObject(ctx, path, "text/html; charset=utf-8", snap.Body)
	if err != nil {
		t.logger.Warn("archive miss failed", zap.Error(err))
		return
	}
	t.logger.Debug("archived unclassified snapshot", zap.String("uri", uri))
}

func failureReason(err error) string {
	var apiErr *relay.APIError
	var connErr *relay.ConnectivityError
	switch {
	case errors.As(err, &apiErr):
		return "http"
	case errors.As(err, &connErr):
		return "network"
	case errors.Is(err, relay.ErrNoEndpoint):
		return "config"
	default:
		return "other"
	}
}
