package tracker

import (
	"context"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	archivemem "github.com/notionviews/agent/internal/archive/memory"
	"github.com/notionviews/agent/internal/classifier"
	"github.com/notionviews/agent/internal/hash/sha256"
	"github.com/notionviews/agent/internal/id/uuid"
	"github.com/notionviews/agent/internal/journal"
	"github.com/notionviews/agent/internal/metrics"
	publishermem "github.com/notionviews/agent/internal/publisher/memory"
	"github.com/notionviews/agent/internal/relay"
	"github.com/notionviews/agent/internal/settings"
	"github.com/notionviews/agent/internal/tracking"
)

const (
	itemURL = "https://www.notion.so/acme/Roadmap-Item-24de54b2d72f808fb2cfe6f47cf1876a"
	itemID  = "24de54b2-d72f-808f-b2cf-e6f47cf1876a"
)

var itemBody = []byte(`<html><body><div id="notion-app"><div data-block-id="b1">Roadmap Item</div></div></body></html>`)

func TestMain(m *testing.M) {
	metrics.Init()
	os.Exit(m.Run())
}

type fakeRelay struct {
	mu         sync.Mutex
	increments []string
	err        error
	newViews   int
	endpoint   string
	apiKey     string
}

func (f *fakeRelay) Health(context.Context) error { return nil }

func (f *fakeRelay) IncrementViews(_ context.Context, pageID, _ string) (tracking.IncrementResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.increments = append(f.increments, pageID)
	if f.err != nil {
		return tracking.IncrementResult{}, f.err
	}
	return tracking.IncrementResult{NewViews: f.newViews}, nil
}

func (f *fakeRelay) Register(context.Context, string, string) (string, error) { return "", nil }

func (f *fakeRelay) Stats(context.Context) (tracking.UsageStats, error) {
	return tracking.UsageStats{}, nil
}

func (f *fakeRelay) SetCredentials(endpoint, apiKey string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.endpoint = endpoint
	f.apiKey = apiKey
}

func (f *fakeRelay) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.increments)
}

type fixedClock struct{ at time.Time }

func (c fixedClock) Now() time.Time { return c.at }

type fixture struct {
	tracker   *Tracker
	relay     *fakeRelay
	journal   *journal.Memory
	store     *settings.MemoryStore
	publisher *publishermem.Publisher
	archive   *archivemem.BlobStore
	now       time.Time
}

func newFixture(t *testing.T, s tracking.Settings, cfg Config) *fixture {
	t.Helper()
	now := time.Date(2026, 3, 14, 9, 26, 53, 0, time.UTC)
	f := &fixture{
		relay:     &fakeRelay{newViews: 7},
		journal:   journal.NewMemory(),
		store:     settings.NewMemoryStore(s),
		publisher: publishermem.New(),
		archive:   archivemem.NewBlobStore(),
		now:       now,
	}
	f.tracker = New(
		s,
		classifier.New(classifier.DefaultConfig()),
		f.relay,
		f.store,
		f.journal,
		f.publisher,
		f.archive,
		sha256.New(),
		fixedClock{at: now},
		uuid.New(),
		cfg,
		zap.NewNop(),
	)
	return f
}

func enabledSettings() tracking.Settings {
	return tracking.Settings{
		APIEndpoint: "https://views.example.com",
		APIKey:      "key-123",
		Enabled:     true,
		DatabaseID:  "11111111-2222-3333-4444-555555555555",
	}
}

func TestCheckTracksOnce(t *testing.T) {
	f := newFixture(t, enabledSettings(), Config{PublishTopic: "tracked-views"})
	snap := tracking.Snapshot{URL: itemURL, Body: itemBody}

	outcome := f.tracker.Check(context.Background(), snap, tracking.TriggerNavigation)
	require.Equal(t, tracking.OutcomeTracked, outcome)
	require.Equal(t, 1, f.relay.callCount())
	assert.Equal(t, []string{itemID}, f.relay.increments)
	assert.True(t, f.tracker.Seen(itemID))
	assert.Equal(t, 1, f.tracker.TrackedCount())

	records, err := f.journal.Recent(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.True(t, records[0].OK)
	assert.Equal(t, itemID, records[0].PageID)
	assert.Equal(t, 7, records[0].NewViews)
	assert.Equal(t, tracking.TriggerNavigation, records[0].Trigger)
	assert.NotEmpty(t, records[0].ID)

	saved, err := f.store.Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, f.now, saved.LastTracked)

	msgs := f.publisher.Messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, "tracked-views", msgs[0].Topic)

	// Same page again, different trigger: the id is already tracked.
	outcome = f.tracker.Check(context.Background(), snap, tracking.TriggerInPage)
	assert.Equal(t, tracking.OutcomeAlreadySeen, outcome)
	assert.Equal(t, 1, f.relay.callCount())
}

func TestCheckDisabled(t *testing.T) {
	s := enabledSettings()
	s.Enabled = false
	f := newFixture(t, s, Config{})

	outcome := f.tracker.Check(context.Background(), tracking.Snapshot{URL: itemURL, Body: itemBody}, tracking.TriggerInitial)
	assert.Equal(t, tracking.OutcomeDisabled, outcome)
	assert.Zero(t, f.relay.callCount())
}

func TestCheckNoEndpoint(t *testing.T) {
	s := enabledSettings()
	s.APIEndpoint = ""
	f := newFixture(t, s, Config{})

	outcome := f.tracker.Check(context.Background(), tracking.Snapshot{URL: itemURL, Body: itemBody}, tracking.TriggerInitial)
	assert.Equal(t, tracking.OutcomeDisabled, outcome)
	assert.Zero(t, f.relay.callCount())
}

func TestCheckNoPageID(t *testing.T) {
	f := newFixture(t, enabledSettings(), Config{})

	outcome := f.tracker.Check(context.Background(), tracking.Snapshot{URL: "https://www.notion.so/acme/Home", Body: itemBody}, tracking.TriggerNavigation)
	assert.Equal(t, tracking.OutcomeNoPageID, outcome)
	assert.Zero(t, f.relay.callCount())
}

func TestCheckNotDatabaseItem(t *testing.T) {
	f := newFixture(t, enabledSettings(), Config{ArchiveMisses: true, ArchivePrefix: "misses"})
	body := []byte(`<html><body><p>A plain page without collection markers.</p></body></html>`)

	outcome := f.tracker.Check(context.Background(), tracking.Snapshot{URL: itemURL, Body: body}, tracking.TriggerNavigation)
	assert.Equal(t, tracking.OutcomeNotDBItem, outcome)
	assert.Zero(t, f.relay.callCount())
	assert.False(t, f.tracker.Seen(itemID))

	assert.Equal(t, 1, f.archive.Len())
}

func TestCheckFailureIsNotRetried(t *testing.T) {
	f := newFixture(t, enabledSettings(), Config{})
	f.relay.err = &relay.APIError{StatusCode: 500, Body: "boom"}
	snap := tracking.Snapshot{URL: itemURL, Body: itemBody}

	outcome := f.tracker.Check(context.Background(), snap, tracking.TriggerNavigation)
	require.Equal(t, tracking.OutcomeTrackFailed, outcome)
	assert.Equal(t, 1, f.relay.callCount())
	assert.True(t, f.tracker.Seen(itemID))

	records, err := f.journal.Recent(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.False(t, records[0].OK)
	assert.NotEmpty(t, records[0].ErrorText)

	// The failed id stays tracked, so the visit is not re-sent.
	outcome = f.tracker.Check(context.Background(), snap, tracking.TriggerInPage)
	assert.Equal(t, tracking.OutcomeAlreadySeen, outcome)
	assert.Equal(t, 1, f.relay.callCount())

	// LastTracked is only advanced on success.
	saved, err := f.store.Load(context.Background())
	require.NoError(t, err)
	assert.True(t, saved.LastTracked.IsZero())
}

func TestCheckFinalURLWins(t *testing.T) {
	f := newFixture(t, enabledSettings(), Config{})
	snap := tracking.Snapshot{
		URL:      "https://www.notion.so/acme/Home",
		FinalURL: itemURL,
		Body:     itemBody,
	}

	outcome := f.tracker.Check(context.Background(), snap, tracking.TriggerScan)
	assert.Equal(t, tracking.OutcomeTracked, outcome)
	assert.Equal(t, []string{itemID}, f.relay.increments)
}

func TestUpdateSettings(t *testing.T) {
	f := newFixture(t, enabledSettings(), Config{})

	next := enabledSettings()
	next.APIEndpoint = "https://views2.example.com"
	next.APIKey = "key-456"
	f.tracker.UpdateSettings(next)

	assert.Equal(t, "https://views2.example.com", f.relay.endpoint)
	assert.Equal(t, "key-456", f.relay.apiKey)
	assert.Equal(t, next.APIEndpoint, f.tracker.Settings().APIEndpoint)
}

func TestConcurrentChecksSingleIncrement(t *testing.T) {
	f := newFixture(t, enabledSettings(), Config{})
	snap := tracking.Snapshot{URL: itemURL, Body: itemBody}

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			f.tracker.Check(context.Background(), snap, tracking.TriggerNavigation)
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, f.relay.callCount())
	assert.Equal(t, 1, f.tracker.TrackedCount())
}
