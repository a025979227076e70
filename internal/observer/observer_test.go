package observer

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/chromedp/cdproto/target"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/notionviews/agent/internal/tracking"
)

func TestClassifyChange(t *testing.T) {
	tests := []struct {
		name  string
		prev  string
		next  string
		known bool
		want  tracking.Trigger
	}{
		{
			name: "first sighting",
			next: "https://www.notion.so/acme/Home",
			want: tracking.TriggerInitial,
		},
		{
			name:  "cross page navigation",
			prev:  "https://www.notion.so/acme/Home",
			next:  "https://www.notion.so/acme/Roadmap-24de54b2d72f808fb2cfe6f47cf1876a",
			known: true,
			want:  tracking.TriggerNavigation,
		},
		{
			name:  "peek open via query param",
			prev:  "https://www.notion.so/acme/Board-1234",
			next:  "https://www.notion.so/acme/Board-1234?p=24de54b2d72f808fb2cfe6f47cf1876a",
			known: true,
			want:  tracking.TriggerInPage,
		},
		{
			name:  "fragment only",
			prev:  "https://www.notion.so/acme/Doc-5678",
			next:  "https://www.notion.so/acme/Doc-5678#section",
			known: true,
			want:  tracking.TriggerInPage,
		},
		{
			name:  "host change",
			prev:  "https://acme.notion.site/Doc-5678",
			next:  "https://www.notion.so/acme/Doc-5678",
			known: true,
			want:  tracking.TriggerNavigation,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, classifyChange(tc.prev, tc.next, tc.known))
		})
	}
}

type capturedCall struct {
	id   target.ID
	url  string
	trig tracking.Trigger
}

type captureRecorder struct {
	mu    sync.Mutex
	calls []capturedCall
}

func (r *captureRecorder) record(_ context.Context, id target.ID, url string, trig tracking.Trigger) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, capturedCall{id: id, url: url, trig: trig})
}

func (r *captureRecorder) snapshot() []capturedCall {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]capturedCall, len(r.calls))
	copy(out, r.calls)
	return out
}

func newTestObserver(rec *captureRecorder, hostOK func(string) bool) *Observer {
	o := New(Config{SettleDelay: 10 * time.Millisecond}, nil, nil, hostOK, zap.NewNop())
	o.capture = rec.record
	return o
}

func TestNoteURLDebounces(t *testing.T) {
	rec := &captureRecorder{}
	o := newTestObserver(rec, nil)
	ctx := context.Background()
	id := target.ID("tab-1")

	// A burst of URL flips before the settle delay elapses: only the final
	// URL should be captured.
	o.noteURL(ctx, id, "https://www.notion.so/acme/Home")
	o.noteURL(ctx, id, "https://www.notion.so/acme/Board-1234")
	o.noteURL(ctx, id, "https://www.notion.so/acme/Roadmap-24de54b2d72f808fb2cfe6f47cf1876a")

	require.Eventually(t, func() bool {
		return len(rec.snapshot()) == 1
	}, time.Second, 5*time.Millisecond)

	calls := rec.snapshot()
	assert.Equal(t, "https://www.notion.so/acme/Roadmap-24de54b2d72f808fb2cfe6f47cf1876a", calls[0].url)
	assert.Equal(t, tracking.TriggerNavigation, calls[0].trig)
}

func TestNoteURLIgnoresRepeats(t *testing.T) {
	rec := &captureRecorder{}
	o := newTestObserver(rec, nil)
	ctx := context.Background()
	id := target.ID("tab-1")

	o.noteURL(ctx, id, "https://www.notion.so/acme/Home")
	time.Sleep(30 * time.Millisecond)
	o.noteURL(ctx, id, "https://www.notion.so/acme/Home")
	time.Sleep(30 * time.Millisecond)

	assert.Len(t, rec.snapshot(), 1)
}

func TestNoteURLHostFilter(t *testing.T) {
	rec := &captureRecorder{}
	o := newTestObserver(rec, func(rawURL string) bool {
		return rawURL != "https://example.com/other"
	})
	ctx := context.Background()
	id := target.ID("tab-1")

	o.noteURL(ctx, id, "https://example.com/other")
	time.Sleep(30 * time.Millisecond)
	assert.Empty(t, rec.snapshot())

	// Navigating from a filtered URL still counts as a change.
	o.noteURL(ctx, id, "https://www.notion.so/acme/Home")
	require.Eventually(t, func() bool {
		return len(rec.snapshot()) == 1
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, tracking.TriggerNavigation, rec.snapshot()[0].trig)
}

func TestNoteURLSkipsBlank(t *testing.T) {
	rec := &captureRecorder{}
	o := newTestObserver(rec, nil)
	ctx := context.Background()

	o.noteURL(ctx, target.ID("tab-1"), "about:blank")
	o.noteURL(ctx, target.ID("tab-1"), "")
	time.Sleep(30 * time.Millisecond)

	assert.Empty(t, rec.snapshot())
}

func TestForgetStopsPendingCapture(t *testing.T) {
	rec := &captureRecorder{}
	o := newTestObserver(rec, nil)
	ctx := context.Background()
	id := target.ID("tab-1")

	o.noteURL(ctx, id, "https://www.notion.so/acme/Home")
	o.forget(id)
	time.Sleep(30 * time.Millisecond)

	assert.Empty(t, rec.snapshot())
}
