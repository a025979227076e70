// Package app initializes and holds long-lived services, acting as a
// dependency injection container for the tracking agent.
package app

import (
	"context"
	"fmt"
	"io"
	"time"

	"cloud.google.com/go/pubsub"
	gstorage "cloud.google.com/go/storage"
	"go.uber.org/zap"

	"github.com/notionviews/agent/internal/api"
	archivegcs "github.com/notionviews/agent/internal/archive/gcs"
	archivelocal "github.com/notionviews/agent/internal/archive/local"
	"github.com/notionviews/agent/internal/classifier"
	"github.com/notionviews/agent/internal/clock/system"
	"github.com/notionviews/agent/internal/config"
	"github.com/notionviews/agent/internal/hash/sha256"
	"github.com/notionviews/agent/internal/id/uuid"
	"github.com/notionviews/agent/internal/journal"
	"github.com/notionviews/agent/internal/monitor"
	"github.com/notionviews/agent/internal/observer"
	publisherpubsub "github.com/notionviews/agent/internal/publisher/pubsub"
	"github.com/notionviews/agent/internal/relay"
	"github.com/notionviews/agent/internal/settings"
	"github.com/notionviews/agent/internal/snapshot"
	"github.com/notionviews/agent/internal/tracker"
	"github.com/notionviews/agent/internal/tracking"
)

// App holds the shared, long-lived services for the agent. It is built once
// at startup and torn down in Close.
type App struct {
	Config   config.Config
	Logger   *zap.Logger
	Tracker  *tracker.Tracker
	Observer *observer.Observer
	Monitor  *monitor.Monitor
	Server   *api.Server

	headless *snapshot.HeadlessFetcher
	closers  []io.Closer
}

// New wires every service from configuration, failing fast when a critical
// dependency cannot be initialized.
func New(ctx context.Context, cfg config.Config, logger *zap.Logger) (*App, error) {
	a := &App{Config: cfg, Logger: logger}

	classify := classifier.New(cfg.Classifier)
	clock := system.New()
	idGen := uuid.New()
	hasher := sha256.New()

	store, err := a.buildSettingsStore(cfg)
	if err != nil {
		return nil, err
	}
	initial, err := store.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("load settings: %w", err)
	}

	viewJournal, err := a.buildJournal(ctx, cfg)
	if err != nil {
		return nil, err
	}
	publisher, err := a.buildPublisher(ctx, cfg)
	if err != nil {
		return nil, err
	}
	archive, err := a.buildArchive(ctx, cfg)
	if err != nil {
		return nil, err
	}

	rel := relay.New(relay.Config{
		Endpoint:     initial.APIEndpoint,
		APIKey:       initial.APIKey,
		Timeout:      secondsToDuration(cfg.Relay.TimeoutSeconds),
		IncrementQPS: cfg.Relay.IncrementQPS,
	}, logger.Named("relay"))

	a.Tracker = tracker.New(
		initial,
		classify,
		rel,
		store,
		viewJournal,
		publisher,
		archive,
		hasher,
		clock,
		idGen,
		tracker.Config{
			PublishTopic:  cfg.Publisher.TopicName,
			ArchiveMisses: archive != nil,
			ArchivePrefix: cfg.Archive.Prefix,
		},
		logger.Named("tracker"),
	)

	headless, err := snapshot.NewHeadless(snapshot.HeadlessConfig{
		RemoteURL:         cfg.Browser.RemoteURL,
		MaxParallel:       cfg.Browser.MaxParallel,
		UserAgent:         cfg.Browser.UserAgent,
		NavigationTimeout: cfg.NavTimeout(),
	})
	if err != nil {
		return nil, fmt.Errorf("init headless fetcher: %w", err)
	}
	a.headless = headless

	probe := snapshot.NewColly(snapshot.CollyConfig{
		UserAgent: cfg.Browser.UserAgent,
		Timeout:   secondsToDuration(cfg.Probe.TimeoutSeconds),
	})
	detector := snapshot.NewDetector(cfg.Detector)
	scanner := snapshot.NewPromoting(probe, headless, detector, logger.Named("snapshot"))

	if cfg.Observer.Enabled {
		a.Observer = observer.New(observer.Config{
			SettleDelay:       cfg.SettleDelay(),
			InPageSettleDelay: cfg.InPageSettleDelay(),
			InitialScan:       cfg.Observer.InitialScan,
		}, headless, a.Tracker, classify.HostRecognized, logger.Named("observer"))
	}

	a.Monitor = monitor.New(monitor.Config{
		Interval: secondsToDuration(cfg.Monitor.IntervalSeconds),
	}, rel, clock, logger.Named("monitor"))

	a.Server = api.NewServer(
		a.Tracker,
		rel,
		store,
		viewJournal,
		scanner,
		a.Monitor,
		idGen,
		cfg,
		logger.Named("api"),
	)

	return a, nil
}

func (a *App) buildSettingsStore(cfg config.Config) (tracking.SettingsStore, error) {
	defaults := tracking.Settings{Enabled: true}
	switch cfg.Settings.Driver {
	case "sqlite":
		store, err := settings.NewSQLiteStore(cfg.Settings.Path, defaults)
		if err != nil {
			return nil, fmt.Errorf("init sqlite settings store: %w", err)
		}
		a.Logger.Info("using sqlite settings store", zap.String("path", cfg.Settings.Path))
		a.closers = append(a.closers, store)
		return store, nil
	case "memory":
		a.Logger.Info("using in-memory settings store; settings reset on restart")
		return settings.NewMemoryStore(defaults), nil
	default:
		return nil, fmt.Errorf("unknown settings driver: %s", cfg.Settings.Driver)
	}
}

func (a *App) buildJournal(ctx context.Context, cfg config.Config) (tracking.Journal, error) {
	switch cfg.Journal.Driver {
	case "postgres":
		j, err := journal.NewPostgres(ctx, journal.PostgresConfig{
			DSN:   cfg.Journal.DSN,
			Table: cfg.Journal.Table,
		})
		if err != nil {
			return nil, fmt.Errorf("init postgres journal: %w", err)
		}
		a.Logger.Info("using postgres journal", zap.String("table", cfg.Journal.Table))
		a.closers = append(a.closers, closerFunc(func() error {
			j.Close()
			return nil
		}))
		return j, nil
	case "memory":
		a.Logger.Info("using in-memory journal")
		return journal.NewMemory(), nil
	default:
		return nil, fmt.Errorf("unknown journal driver: %s", cfg.Journal.Driver)
	}
}

func (a *App) buildPublisher(ctx context.Context, cfg config.Config) (tracking.Publisher, error) {
	if !cfg.Publisher.Enabled {
		return nil, nil
	}
	client, err := pubsub.NewClient(ctx, cfg.Publisher.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("init pubsub client: %w", err)
	}
	pub := publisherpubsub.New(client)
	a.Logger.Info("publishing tracked views",
		zap.String("project", cfg.Publisher.ProjectID),
		zap.String("topic", cfg.Publisher.TopicName),
	)
	a.closers = append(a.closers, pub)
	return pub, nil
}

func (a *App) buildArchive(ctx context.Context, cfg config.Config) (tracking.BlobStore, error) {
	switch cfg.Archive.Driver {
	case "", "none":
		return nil, nil
	case "local":
		store, err := archivelocal.New(archivelocal.Config{BaseDir: cfg.Archive.BaseDir})
		if err != nil {
			return nil, fmt.Errorf("init local archive: %w", err)
		}
		a.Logger.Info("archiving unclassified snapshots", zap.String("dir", cfg.Archive.BaseDir))
		return store, nil
	case "gcs":
		client, err := gstorage.NewClient(ctx)
		if err != nil {
			return nil, fmt.Errorf("init gcs client: %w", err)
		}
		a.closers = append(a.closers, client)
		store, err := archivegcs.New(client, archivegcs.Config{Bucket: cfg.Archive.GCSBucket})
		if err != nil {
			return nil, fmt.Errorf("init gcs archive: %w", err)
		}
		a.Logger.Info("archiving unclassified snapshots", zap.String("bucket", cfg.Archive.GCSBucket))
		return store, nil
	default:
		return nil, fmt.Errorf("unknown archive driver: %s", cfg.Archive.Driver)
	}
}

// Close tears down all services in reverse initialization order.
func (a *App) Close() {
	if a.headless != nil {
		a.headless.Close()
	}
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i].Close(); err != nil {
			a.Logger.Warn("close service", zap.Error(err))
		}
	}
	if err := a.Logger.Sync(); err != nil {
		// Sync on stderr fails on some platforms; nothing useful to do.
		_ = err
	}
}

func secondsToDuration(s int) time.Duration {
	return time.Duration(s) * time.Second
}

type closerFunc func() error

func (f closerFunc) Close() error { return f() }
