// Package config loads the monitor configuration from a json5/yaml file,
// the environment and a .env file.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
	"solwatch/internal/dedup"
	"solwatch/internal/monitor"
	"solwatch/lib/configutil"
	"solwatch/lib/dbutil"

	"github.com/joho/godotenv"
)

const DefaultPath = "solwatch.json5"

const (
	FetcherBrowser = "browser"
	FetcherHTTP    = "http"

	ExtractorTransactions = "transactions"
	ExtractorKOL          = "kol"
)

type FetcherConfig struct {
	Kind           string `json:"kind" yaml:"kind"`
	TimeoutSeconds int    `json:"timeout_seconds" yaml:"timeout_seconds"`
	SettleMillis   int    `json:"settle_millis" yaml:"settle_millis"`
	ReadySelector  string `json:"ready_selector" yaml:"ready_selector"`
	UserAgent      string `json:"user_agent" yaml:"user_agent"`
	// RemoteURL is the devtools websocket of an already running browser.
	RemoteURL string `json:"remote_url" yaml:"remote_url"`
}

type ExtractorConfig struct {
	Kind          string `json:"kind" yaml:"kind"`
	TableSelector string `json:"table_selector" yaml:"table_selector"`
	CardSelector  string `json:"card_selector" yaml:"card_selector"`
	MinKOLCount   int    `json:"min_kol_count" yaml:"min_kol_count"`
	ContentIDs    bool   `json:"content_ids" yaml:"content_ids"`
	BuysOnly      bool   `json:"buys_only" yaml:"buys_only"`
}

type StoreConfig struct {
	// Kind is "sql" or "file".
	Kind string `json:"kind" yaml:"kind"`
	// DSN defaults to <data_dir>/seen.db.
	DSN string `json:"dsn" yaml:"dsn"`
	// AuthToken is added to libsql urls that do not carry one.
	AuthToken string `json:"auth_token" yaml:"auth_token"`
	// Path defaults to <data_dir>/alerted_tokens.txt.
	Path          string `json:"path" yaml:"path"`
	RetentionDays int    `json:"retention_days" yaml:"retention_days"`
}

type DiscordConfig struct {
	WebhookURL        string `json:"webhook_url" yaml:"webhook_url"`
	Username          string `json:"username" yaml:"username"`
	TimeoutSeconds    int    `json:"timeout_seconds" yaml:"timeout_seconds"`
	MaxAttempts       int    `json:"max_attempts" yaml:"max_attempts"`
	BaseBackoffMillis int    `json:"base_backoff_millis" yaml:"base_backoff_millis"`
	MaxBackoffSeconds int    `json:"max_backoff_seconds" yaml:"max_backoff_seconds"`
}

type EmailConfig struct {
	Server   string   `json:"server" yaml:"server"`
	Port     int      `json:"port" yaml:"port"`
	Address  string   `json:"email_address" yaml:"email_address"`
	Password string   `json:"password" yaml:"password"`
	To       []string `json:"to" yaml:"to"`
	// TimeoutSeconds defaults to 8.
	TimeoutSeconds int `json:"timeout_seconds" yaml:"timeout_seconds"`
}

func (c EmailConfig) Enabled() bool {
	return c.Server != ""
}

type AlertsConfig struct {
	// Volume enables the volume rule, on by default for transactions.
	Volume *bool `json:"volume" yaml:"volume"`
	// Only notifies volume alerts and marks raw rows seen silently.
	Only            *bool   `json:"only" yaml:"only"`
	MinSOL          float64 `json:"min_sol_alert" yaml:"min_sol_alert"`
	WindowMinutes   int     `json:"window_minutes" yaml:"window_minutes"`
	LookbackMinutes int     `json:"lookback_minutes" yaml:"lookback_minutes"`
	CooldownMinutes int     `json:"cooldown_minutes" yaml:"cooldown_minutes"`
}

type Config struct {
	URL             string `json:"url" yaml:"url"`
	IntervalSeconds int    `json:"interval_seconds" yaml:"interval_seconds"`
	DataDir         string `json:"data_dir" yaml:"data_dir"`
	// Timezone is the IANA zone of the clock and the cron schedule, empty
	// means UTC.
	Timezone string `json:"timezone" yaml:"timezone"`
	// DryRun prints notifications to stdout instead of delivering them.
	DryRun      bool   `json:"dry_run" yaml:"dry_run"`
	MetricsAddr string `json:"metrics_addr" yaml:"metrics_addr"`
	// MismatchDumps is how many pages that failed extraction are kept in
	// <data_dir>/mismatches, negative disables them.
	MismatchDumps int `json:"mismatch_dumps" yaml:"mismatch_dumps"`

	Fetcher   FetcherConfig   `json:"fetcher" yaml:"fetcher"`
	Extractor ExtractorConfig `json:"extractor" yaml:"extractor"`
	Store     StoreConfig     `json:"store" yaml:"store"`
	Discord   DiscordConfig   `json:"discord" yaml:"discord"`
	Email     EmailConfig     `json:"email" yaml:"email"`
	Alerts    AlertsConfig    `json:"alerts" yaml:"alerts"`
}

// Override changes a loaded configuration before defaults apply, commands
// use it for their flags.
type Override func(c *Config)

// Load is Read followed by Validate.
func Load(path string, overrides ...Override) (Config, error) {
	cfg, err := Read(path, overrides...)
	if err != nil {
		return Config{}, err
	}
	return cfg, cfg.Validate()
}

// Read reads path (a missing file is not an error), then applies the
// environment, the overrides and the defaults, in that order.
func Read(path string, overrides ...Override) (Config, error) {
	cfg, err := configutil.ReadConfig[Config](path)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return Config{}, &monitor.ConfigError{Field: "file", Reason: err.Error()}
	}
	err = cfg.ApplyEnv(os.LookupEnv)
	if err != nil {
		return Config{}, err
	}
	for _, override := range overrides {
		override(&cfg)
	}
	return cfg.WithDefaults(), nil
}

// LoadDotenv loads a .env file into the environment without overriding
// variables that are already set.
func LoadDotenv(path string) error {
	err := godotenv.Load(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	return err
}

// ApplyEnv overrides the file with DISCORD_WEBHOOK, SOLWATCH_URL (or the older
// CABALSPY_URL), DATA_DIR, SCAN_INTERVAL_SECONDS, MIN_KOL_COUNT and
// MIN_SOL_ALERT.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	if v, ok := lookup("DISCORD_WEBHOOK"); ok && v != "" {
		c.Discord.WebhookURL = v
	}
	if v, ok := lookup("SOLWATCH_URL"); ok && v != "" {
		c.URL = v
	} else if v, ok := lookup("CABALSPY_URL"); ok && v != "" {
		c.URL = v
	}
	if v, ok := lookup("DATA_DIR"); ok && v != "" {
		c.DataDir = v
	}
	if v, ok := lookup("SCAN_INTERVAL_SECONDS"); ok && v != "" {
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return &monitor.ConfigError{Field: "SCAN_INTERVAL_SECONDS", Reason: err.Error()}
		}
		c.IntervalSeconds = n
	}
	if v, ok := lookup("MIN_KOL_COUNT"); ok && v != "" {
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return &monitor.ConfigError{Field: "MIN_KOL_COUNT", Reason: err.Error()}
		}
		c.Extractor.MinKOLCount = n
	}
	if v, ok := lookup("MIN_SOL_ALERT"); ok && v != "" {
		n, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil {
			return &monitor.ConfigError{Field: "MIN_SOL_ALERT", Reason: err.Error()}
		}
		c.Alerts.MinSOL = n
	}
	return nil
}

func boolPtr(b bool) *bool {
	return &b
}

func (c Config) WithDefaults() Config {
	if c.IntervalSeconds == 0 {
		c.IntervalSeconds = 60
	}
	if c.DataDir == "" {
		c.DataDir = "data"
	}
	if c.MismatchDumps == 0 {
		c.MismatchDumps = 10
	}

	if c.Fetcher.Kind == "" {
		c.Fetcher.Kind = FetcherBrowser
	}
	if c.Fetcher.TimeoutSeconds <= 0 {
		c.Fetcher.TimeoutSeconds = 60
	}
	if c.Fetcher.SettleMillis == 0 {
		c.Fetcher.SettleMillis = 4000
	}

	if c.Extractor.Kind == "" {
		c.Extractor.Kind = ExtractorTransactions
	}

	if c.Store.Kind == "" {
		c.Store.Kind = dedup.KindSQL
	}
	if c.Store.DSN == "" {
		c.Store.DSN = filepath.Join(c.DataDir, "seen.db")
	}
	if c.Store.Path == "" {
		c.Store.Path = filepath.Join(c.DataDir, "alerted_tokens.txt")
	}

	if c.Alerts.Volume == nil {
		c.Alerts.Volume = boolPtr(c.Extractor.Kind == ExtractorTransactions)
	}
	if c.Alerts.Only == nil {
		c.Alerts.Only = boolPtr(true)
	}
	if c.Alerts.MinSOL <= 0 {
		c.Alerts.MinSOL = 40
	}

	if c.Email.Port == 0 {
		c.Email.Port = 587
	}
	return c
}

// Validate reports the first problem that makes the configuration unusable.
func (c Config) Validate() error {
	if c.URL == "" {
		return &monitor.ConfigError{Field: "url", Reason: "a target url is required (--url or SOLWATCH_URL)"}
	}
	parsed, err := url.Parse(c.URL)
	if err != nil || (parsed.Scheme != "http" && parsed.Scheme != "https") || parsed.Host == "" {
		return &monitor.ConfigError{Field: "url", Reason: fmt.Sprintf("%q is not an absolute http(s) url", c.URL)}
	}
	if c.IntervalSeconds <= 0 {
		return &monitor.ConfigError{Field: "interval_seconds", Reason: "must be positive"}
	}
	if c.Timezone != "" {
		_, err := time.LoadLocation(c.Timezone)
		if err != nil {
			return &monitor.ConfigError{Field: "timezone", Reason: err.Error()}
		}
	}
	if !c.DryRun && c.Discord.WebhookURL == "" {
		return &monitor.ConfigError{Field: "discord.webhook_url", Reason: "a webhook is required (DISCORD_WEBHOOK) unless dry_run is set"}
	}
	switch c.Fetcher.Kind {
	case FetcherBrowser, FetcherHTTP:
	default:
		return &monitor.ConfigError{Field: "fetcher.kind", Reason: fmt.Sprintf("unknown fetcher %q", c.Fetcher.Kind)}
	}
	switch c.Extractor.Kind {
	case ExtractorTransactions, ExtractorKOL:
	default:
		return &monitor.ConfigError{Field: "extractor.kind", Reason: fmt.Sprintf("unknown extractor %q", c.Extractor.Kind)}
	}
	switch c.Store.Kind {
	case dedup.KindSQL, dedup.KindFile:
	default:
		return &monitor.ConfigError{Field: "store.kind", Reason: fmt.Sprintf("unknown store %q", c.Store.Kind)}
	}
	if c.Email.Enabled() && len(c.Email.To) == 0 {
		return &monitor.ConfigError{Field: "email.to", Reason: "at least one recipient is required"}
	}
	return nil
}

func (c Config) Interval() time.Duration {
	return time.Duration(c.IntervalSeconds) * time.Second
}

// ConnectionString is the DSN with the auth token attached for remote libsql
// databases.
func (s StoreConfig) ConnectionString() string {
	if s.AuthToken == "" || dbutil.DetectDialect(s.DSN) != dbutil.Libsql {
		return s.DSN
	}
	parsed, err := url.Parse(s.DSN)
	if err != nil {
		return s.DSN
	}
	query := parsed.Query()
	if query.Get("authToken") != "" {
		return s.DSN
	}
	query.Set("authToken", s.AuthToken)
	parsed.RawQuery = query.Encode()
	return parsed.String()
}

func (c Config) MismatchDir() string {
	return filepath.Join(c.DataDir, "mismatches")
}

func (c Config) Retention() time.Duration {
	return time.Duration(c.Store.RetentionDays) * 24 * time.Hour
}

// NotifyKinds is the set of event kinds that are delivered, events of other
// kinds are only marked seen.
func (c Config) NotifyKinds() []monitor.Kind {
	switch c.Extractor.Kind {
	case ExtractorKOL:
		return []monitor.Kind{monitor.KindKOL}
	default:
		if *c.Alerts.Volume && *c.Alerts.Only {
			return []monitor.Kind{monitor.KindVolume}
		}
		if *c.Alerts.Volume {
			return []monitor.Kind{monitor.KindTransaction, monitor.KindVolume}
		}
		return []monitor.Kind{monitor.KindTransaction}
	}
}
