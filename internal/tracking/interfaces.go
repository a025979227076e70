package tracking

import (
	"context"
	"time"
)

// SettingsStore persists the agent settings blob.
type SettingsStore interface {
	Load(ctx context.Context) (Settings, error)
	Save(ctx context.Context, settings Settings) error
}

// Journal records tracking outcomes for local inspection.
type Journal interface {
	Record(ctx context.Context, record ViewRecord) error
	Recent(ctx context.Context, limit int) ([]ViewRecord, error)
}

// Relay performs calls against the remote views API.
type Relay interface {
	Health(ctx context.Context) error
	IncrementViews(ctx context.Context, pageID, databaseID string) (IncrementResult, error)
	Register(ctx context.Context, notionToken, databaseID string) (string, error)
	Stats(ctx context.Context) (UsageStats, error)
	SetCredentials(endpoint, apiKey string)
}

// SnapshotFetcher captures the DOM of a URL.
type SnapshotFetcher interface {
	Fetch(ctx context.Context, url string) (Snapshot, error)
}

// Publisher pushes tracked-view events to Pub/Sub (or similar).
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// BlobStore writes raw artifacts and returns a URI.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, data []byte) (string, error)
}

// Hasher computes digests for archive paths.
type Hasher interface {
	Hash(data []byte) (string, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces journal record IDs (UUIDs).
type IDGenerator interface {
	NewID() (string, error)
}
