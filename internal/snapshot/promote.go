package snapshot

import (
	"context"

	"go.uber.org/zap"

	"github.com/notionviews/agent/internal/tracking"
)

// PromotingFetcher probes with plain HTTP first and promotes to a headless
// render when the detector says the body is an unrendered app shell. With no
// headless fetcher configured it degrades to the probe result.
type PromotingFetcher struct {
	probe    tracking.SnapshotFetcher
	headless tracking.SnapshotFetcher
	detector *Detector
	logger   *zap.Logger
}

// NewPromoting wires the probe/promote pipeline.
func NewPromoting(probe, headless tracking.SnapshotFetcher, detector *Detector, logger *zap.Logger) *PromotingFetcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PromotingFetcher{
		probe:    probe,
		headless: headless,
		detector: detector,
		logger:   logger,
	}
}

// Fetch implements tracking.SnapshotFetcher.
func (p *PromotingFetcher) Fetch(ctx context.Context, url string) (tracking.Snapshot, error) {
	if p.probe == nil {
		if p.headless == nil {
			return tracking.Snapshot{}, ErrNoFetcher
		}
		return p.headless.Fetch(ctx, url)
	}

	snap, err := p.probe.Fetch(ctx, url)
	if err != nil {
		if p.headless == nil {
			return tracking.Snapshot{}, err
		}
		p.logger.Debug("probe fetch failed, promoting", zap.String("url", url), zap.Error(err))
		return p.headless.Fetch(ctx, url)
	}
	if p.headless == nil || p.detector == nil || !p.detector.NeedsJS(snap.Body) {
		return snap, nil
	}

	rendered, err := p.headless.Fetch(ctx, url)
	if err != nil {
		p.logger.Warn("headless promotion failed", zap.String("url", url), zap.Error(err))
		return snap, nil
	}
	return rendered, nil
}
