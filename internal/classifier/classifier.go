// Package classifier decides whether a captured page is a database item.
package classifier

import (
	"bytes"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/notionviews/agent/internal/pageid"
)

// Config captures the heuristic knobs. Selectors are an ordered list of
// independent probes, OR-ed together; the list tracks a third party's
// unstable markup and is configuration data, not code.
type Config struct {
	Hosts           []string `mapstructure:"hosts"`
	HostSuffixes    []string `mapstructure:"host_suffixes"`
	Selectors       []string `mapstructure:"selectors"`
	ContentSelector string   `mapstructure:"content_selector"`
}

// DefaultConfig returns the probe set known to match the current Notion DOM.
func DefaultConfig() Config {
	return Config{
		Hosts:        []string{"notion.so", "www.notion.so"},
		HostSuffixes: []string{".notion.site"},
		Selectors: []string{
			"[data-block-id]",
			".notion-collection-item",
			".notion-page-block",
			".notion-collection_view-block",
			".notion-peek-renderer",
		},
		ContentSelector: "main .notion-page-content",
	}
}

// Classifier applies the database-item heuristic. Best effort: false
// positives and negatives are expected and accepted.
type Classifier struct {
	cfg Config
}

// New builds a Classifier, falling back to defaults for empty fields.
func New(cfg Config) *Classifier {
	def := DefaultConfig()
	if len(cfg.Hosts) == 0 && len(cfg.HostSuffixes) == 0 {
		cfg.Hosts = def.Hosts
		cfg.HostSuffixes = def.HostSuffixes
	}
	if len(cfg.Selectors) == 0 {
		cfg.Selectors = def.Selectors
	}
	if cfg.ContentSelector == "" {
		cfg.ContentSelector = def.ContentSelector
	}
	return &Classifier{cfg: cfg}
}

// IsDatabaseItem reports whether the page at rawURL, with the given DOM
// snapshot, looks like a database item: recognized host AND a page id in the
// URL AND at least one DOM probe (or the generic content container) matching.
func (c *Classifier) IsDatabaseItem(rawURL string, body []byte) bool {
	if !c.HostRecognized(rawURL) {
		return false
	}
	if _, ok := pageid.FromURL(rawURL); !ok {
		return false
	}
	return c.probeDOM(body)
}

// HostRecognized reports whether the URL's hostname belongs to the
// configured notion domains.
func (c *Classifier) HostRecognized(rawURL string) bool {
	u, err := url.Parse(rawURL)
	if err != nil {
		return false
	}
	host := strings.ToLower(u.Hostname())
	if host == "" {
		return false
	}
	for _, h := range c.cfg.Hosts {
		if host == strings.ToLower(h) {
			return true
		}
	}
	for _, suffix := range c.cfg.HostSuffixes {
		if strings.HasSuffix(host, strings.ToLower(suffix)) {
			return true
		}
	}
	return false
}

func (c *Classifier) probeDOM(body []byte) bool {
	if len(body) == 0 {
		return false
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return false
	}
	for _, sel := range c.cfg.Selectors {
		if sel == "" {
			continue
		}
		if doc.Find(sel).Length() > 0 {
			return true
		}
	}
	return c.cfg.ContentSelector != "" && doc.Find(c.cfg.ContentSelector).Length() > 0
}
