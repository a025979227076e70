// Package config loads and validates agent configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/notionviews/agent/internal/classifier"
	"github.com/notionviews/agent/internal/snapshot"
)

// Config captures all agent configuration knobs loaded via Viper.
type Config struct {
	Server     ServerConfig            `mapstructure:"server"`
	Auth       AuthConfig              `mapstructure:"auth"`
	Logging    LoggingConfig           `mapstructure:"logging"`
	Browser    BrowserConfig           `mapstructure:"browser"`
	Observer   ObserverConfig          `mapstructure:"observer"`
	Classifier classifier.Config       `mapstructure:"classifier"`
	Detector   snapshot.DetectorConfig `mapstructure:"detector"`
	Probe      ProbeConfig             `mapstructure:"probe"`
	Relay      RelayConfig             `mapstructure:"relay"`
	Settings   SettingsStoreConfig     `mapstructure:"settings"`
	Journal    JournalConfig           `mapstructure:"journal"`
	Publisher  PublisherConfig         `mapstructure:"publisher"`
	Archive    ArchiveConfig           `mapstructure:"archive"`
	Monitor    MonitorConfig           `mapstructure:"monitor"`
}

// ServerConfig controls the local control API.
type ServerConfig struct {
	Port int `mapstructure:"port"`
}

// AuthConfig defines control-API authentication toggles.
type AuthConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	APIKey  string `mapstructure:"api_key"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// BrowserConfig configures Chrome access over the DevTools protocol.
type BrowserConfig struct {
	// RemoteURL attaches to a running browser (ws:// or http://host:port);
	// empty launches a dedicated headless instance.
	RemoteURL     string `mapstructure:"remote_url"`
	UserAgent     string `mapstructure:"user_agent"`
	MaxParallel   int    `mapstructure:"max_parallel"`
	NavTimeoutSec int    `mapstructure:"nav_timeout_seconds"`
}

// ObserverConfig governs the navigation observer.
type ObserverConfig struct {
	Enabled             bool `mapstructure:"enabled"`
	SettleDelayMs       int  `mapstructure:"settle_delay_ms"`
	InPageSettleDelayMs int  `mapstructure:"in_page_settle_delay_ms"`
	InitialScan         bool `mapstructure:"initial_scan"`
}

// ProbeConfig configures the plain-HTTP snapshot probe.
type ProbeConfig struct {
	TimeoutSeconds int `mapstructure:"timeout_seconds"`
}

// RelayConfig controls calls against the remote views API.
type RelayConfig struct {
	TimeoutSeconds int     `mapstructure:"timeout_seconds"`
	IncrementQPS   float64 `mapstructure:"increment_qps"`
}

// SettingsStoreConfig selects where agent settings persist.
type SettingsStoreConfig struct {
	Driver string `mapstructure:"driver"` // memory | sqlite
	Path   string `mapstructure:"path"`
}

// JournalConfig selects where view records are journaled.
type JournalConfig struct {
	Driver string `mapstructure:"driver"` // memory | postgres
	DSN    string `mapstructure:"dsn"`
	Table  string `mapstructure:"table"`
}

// PublisherConfig holds metadata for tracked-view event publishing.
type PublisherConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	ProjectID string `mapstructure:"project_id"`
	TopicName string `mapstructure:"topic_name"`
}

// ArchiveConfig controls snapshot archiving for unclassified pages.
type ArchiveConfig struct {
	Driver    string `mapstructure:"driver"` // none | local | gcs
	BaseDir   string `mapstructure:"base_dir"`
	GCSBucket string `mapstructure:"gcs_bucket"`
	Prefix    string `mapstructure:"prefix"`
}

// MonitorConfig governs the remote connectivity poller.
type MonitorConfig struct {
	IntervalSeconds int `mapstructure:"interval_seconds"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("NOTIONVIEWS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	def := classifier.DefaultConfig()
	det := snapshot.DefaultDetectorConfig()

	v.SetDefault("server.port", 8488)
	v.SetDefault("logging.development", true)
	v.SetDefault("browser.max_parallel", 1)
	v.SetDefault("browser.nav_timeout_seconds", 25)
	v.SetDefault("observer.enabled", true)
	v.SetDefault("observer.settle_delay_ms", 1500)
	v.SetDefault("observer.in_page_settle_delay_ms", 3000)
	v.SetDefault("observer.initial_scan", true)
	v.SetDefault("classifier.hosts", def.Hosts)
	v.SetDefault("classifier.host_suffixes", def.HostSuffixes)
	v.SetDefault("classifier.selectors", def.Selectors)
	v.SetDefault("classifier.content_selector", def.ContentSelector)
	v.SetDefault("detector.min_html_bytes", det.MinHTMLBytes)
	v.SetDefault("detector.markers", det.Markers)
	v.SetDefault("probe.timeout_seconds", 15)
	v.SetDefault("relay.timeout_seconds", 15)
	v.SetDefault("relay.increment_qps", 0)
	v.SetDefault("settings.driver", "sqlite")
	v.SetDefault("settings.path", "data/settings.db")
	v.SetDefault("journal.driver", "memory")
	v.SetDefault("journal.table", "page_views")
	v.SetDefault("archive.driver", "none")
	v.SetDefault("archive.prefix", "misses")
	v.SetDefault("monitor.interval_seconds", 60)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Auth.Enabled && c.Auth.APIKey == "" {
		return fmt.Errorf("auth.api_key must be set when auth is enabled")
	}
	if c.Browser.MaxParallel <= 0 {
		return fmt.Errorf("browser.max_parallel must be > 0")
	}
	if len(c.Classifier.Hosts) == 0 && len(c.Classifier.HostSuffixes) == 0 {
		return fmt.Errorf("classifier needs at least one host or host suffix")
	}
	if len(c.Classifier.Selectors) == 0 {
		return fmt.Errorf("classifier.selectors must not be empty")
	}
	switch c.Settings.Driver {
	case "memory":
	case "sqlite":
		if c.Settings.Path == "" {
			return fmt.Errorf("settings.path must be set for the sqlite driver")
		}
	default:
		return fmt.Errorf("settings.driver must be memory or sqlite")
	}
	switch c.Journal.Driver {
	case "memory":
	case "postgres":
		if c.Journal.DSN == "" {
			return fmt.Errorf("journal.dsn must be set for the postgres driver")
		}
	default:
		return fmt.Errorf("journal.driver must be memory or postgres")
	}
	switch c.Archive.Driver {
	case "", "none":
	case "local":
		if c.Archive.BaseDir == "" {
			return fmt.Errorf("archive.base_dir must be set for the local driver")
		}
	case "gcs":
		if c.Archive.GCSBucket == "" {
			return fmt.Errorf("archive.gcs_bucket must be set for the gcs driver")
		}
	default:
		return fmt.Errorf("archive.driver must be none, local or gcs")
	}
	if c.Publisher.Enabled {
		if c.Publisher.ProjectID == "" || c.Publisher.TopicName == "" {
			return fmt.Errorf("publisher.project_id and publisher.topic_name must be set when publishing is enabled")
		}
	}
	return nil
}

// NavTimeout converts the browser navigation timeout into a duration.
func (c Config) NavTimeout() time.Duration {
	return time.Duration(c.Browser.NavTimeoutSec) * time.Second
}

// SettleDelay converts the observer settle delay into a duration.
func (c Config) SettleDelay() time.Duration {
	return time.Duration(c.Observer.SettleDelayMs) * time.Millisecond
}

// InPageSettleDelay converts the in-page settle delay into a duration.
func (c Config) InPageSettleDelay() time.Duration {
	return time.Duration(c.Observer.InPageSettleDelayMs) * time.Millisecond
}
