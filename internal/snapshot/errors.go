package snapshot

import "errors"

// ErrNoFetcher indicates the pipeline has no fetcher configured at all.
var ErrNoFetcher = errors.New("no snapshot fetcher configured")
