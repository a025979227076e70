package snapshot

import (
	"bytes"
	"strings"
)

// DetectorConfig tunes the JS-need heuristic.
type DetectorConfig struct {
	MinHTMLBytes int      `mapstructure:"min_html_bytes"`
	Markers      []string `mapstructure:"markers"`
}

// DefaultDetectorConfig matches the Notion app shell.
func DefaultDetectorConfig() DetectorConfig {
	return DetectorConfig{
		MinHTMLBytes: 2048,
		Markers: []string{
			"notion-app",
			"id=\"notion-app\"",
			"__console",
			"data-reactroot",
			"id=\"root\"",
		},
	}
}

// Detector decides whether a probe snapshot needs a headless render before
// classification is meaningful.
type Detector struct {
	minHTMLBytes int
	markers      [][]byte
}

// NewDetector constructs a Detector with the configured thresholds.
func NewDetector(cfg DetectorConfig) *Detector {
	if cfg.MinHTMLBytes == 0 && len(cfg.Markers) == 0 {
		cfg = DefaultDetectorConfig()
	}
	markers := make([][]byte, 0, len(cfg.Markers))
	for _, m := range cfg.Markers {
		m = strings.TrimSpace(m)
		if m == "" {
			continue
		}
		markers = append(markers, bytes.ToLower([]byte(m)))
	}
	return &Detector{
		minHTMLBytes: cfg.MinHTMLBytes,
		markers:      markers,
	}
}

// NeedsJS inspects the body for signals that the page is an unrendered SPA
// shell: empty or tiny documents, or known app-shell markers.
func (d *Detector) NeedsJS(body []byte) bool {
	if len(body) == 0 {
		return true
	}
	if d.minHTMLBytes > 0 && len(body) < d.minHTMLBytes {
		return true
	}
	lower := bytes.ToLower(body)
	for _, marker := range d.markers {
		if bytes.Contains(lower, marker) {
			return true
		}
	}
	return false
}
