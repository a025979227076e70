package monitor

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/notionviews/agent/internal/metrics"
	"github.com/notionviews/agent/internal/tracking"
)

func TestMain(m *testing.M) {
	metrics.Init()
	os.Exit(m.Run())
}

type stubRelay struct {
	healthErr error
	stats     tracking.UsageStats
	statsErr  error
}

func (s *stubRelay) Health(context.Context) error { return s.healthErr }

func (s *stubRelay) IncrementViews(context.Context, string, string) (tracking.IncrementResult, error) {
	return tracking.IncrementResult{}, nil
}

func (s *stubRelay) Register(context.Context, string, string) (string, error) { return "", nil }

func (s *stubRelay) Stats(context.Context) (tracking.UsageStats, error) {
	return s.stats, s.statsErr
}

func (s *stubRelay) SetCredentials(string, string) {}

type fixedClock struct{ at time.Time }

func (c fixedClock) Now() time.Time { return c.at }

func TestRefreshHealthy(t *testing.T) {
	now := time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC)
	relay := &stubRelay{stats: tracking.UsageStats{TotalUsers: 12, TotalViews: 340}}
	m := New(Config{}, relay, fixedClock{at: now}, zap.NewNop())

	status := m.Refresh(context.Background())
	assert.True(t, status.Reachable)
	assert.Empty(t, status.Error)
	assert.Equal(t, now, status.CheckedAt)
	require.NotNil(t, status.Stats)
	assert.Equal(t, 12, status.Stats.TotalUsers)

	assert.Equal(t, status, m.Status())
}

func TestRefreshUnreachable(t *testing.T) {
	relay := &stubRelay{healthErr: errors.New("connection refused")}
	m := New(Config{}, relay, fixedClock{at: time.Now()}, zap.NewNop())

	status := m.Refresh(context.Background())
	assert.False(t, status.Reachable)
	assert.Contains(t, status.Error, "connection refused")
	assert.Nil(t, status.Stats)
}

func TestRefreshStatsFailureStillReachable(t *testing.T) {
	relay := &stubRelay{statsErr: errors.New("boom")}
	m := New(Config{}, relay, fixedClock{at: time.Now()}, zap.NewNop())

	status := m.Refresh(context.Background())
	assert.True(t, status.Reachable)
	assert.Nil(t, status.Stats)
}

func TestRunStopsOnCancel(t *testing.T) {
	relay := &stubRelay{}
	m := New(Config{Interval: 5 * time.Millisecond}, relay, fixedClock{at: time.Now()}, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- m.Run(ctx) }()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("monitor did not stop")
	}
	assert.True(t, m.Status().Reachable)
}
