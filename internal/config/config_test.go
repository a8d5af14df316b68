package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
	"solwatch/internal/monitor"

	"github.com/stretchr/testify/require"
)

func env(vars map[string]string) func(string) (string, bool) {
	return func(key string) (string, bool) {
		v, ok := vars[key]
		return v, ok
	}
}

func clearEnv(t *testing.T) {
	for _, key := range []string{
		"DISCORD_WEBHOOK", "SOLWATCH_URL", "CABALSPY_URL", "SCAN_INTERVAL_SECONDS",
		"DATA_DIR", "MIN_KOL_COUNT", "MIN_SOL_ALERT",
	} {
		t.Setenv(key, "")
	}
}

func TestDefaults(t *testing.T) {
	cfg := Config{}.WithDefaults()

	require.Equal(t, time.Minute, cfg.Interval())
	require.Equal(t, "data", cfg.DataDir)
	require.Equal(t, 10, cfg.MismatchDumps)
	require.Equal(t, filepath.Join("data", "mismatches"), cfg.MismatchDir())
	require.Equal(t, FetcherBrowser, cfg.Fetcher.Kind)
	require.Equal(t, 60, cfg.Fetcher.TimeoutSeconds)
	require.Equal(t, 4000, cfg.Fetcher.SettleMillis)
	require.Equal(t, ExtractorTransactions, cfg.Extractor.Kind)
	require.Equal(t, "sql", cfg.Store.Kind)
	require.Equal(t, filepath.Join("data", "seen.db"), cfg.Store.DSN)
	require.True(t, *cfg.Alerts.Volume)
	require.True(t, *cfg.Alerts.Only)
	require.Equal(t, 40.0, cfg.Alerts.MinSOL)
	require.Equal(t, []monitor.Kind{monitor.KindVolume}, cfg.NotifyKinds())
}

func TestKOLDefaults(t *testing.T) {
	cfg := Config{Extractor: ExtractorConfig{Kind: ExtractorKOL}}.WithDefaults()
	require.False(t, *cfg.Alerts.Volume)
	require.Equal(t, []monitor.Kind{monitor.KindKOL}, cfg.NotifyKinds())
}

func TestNotifyKindsWithoutOnly(t *testing.T) {
	only := false
	cfg := Config{Alerts: AlertsConfig{Only: &only}}.WithDefaults()
	require.Equal(t, []monitor.Kind{monitor.KindTransaction, monitor.KindVolume}, cfg.NotifyKinds())
}

func TestApplyEnv(t *testing.T) {
	cfg := Config{URL: "https://from-file.example"}
	err := cfg.ApplyEnv(env(map[string]string{
		"DISCORD_WEBHOOK":       "https://discord.com/api/webhooks/1/abc",
		"SCAN_INTERVAL_SECONDS": " 30 ",
		"MIN_KOL_COUNT":         "20",
		"MIN_SOL_ALERT":         "12.5",
		"DATA_DIR":              "/var/lib/solwatch",
	}))
	require.NoError(t, err)

	require.Equal(t, "https://from-file.example", cfg.URL)
	require.Equal(t, "https://discord.com/api/webhooks/1/abc", cfg.Discord.WebhookURL)
	require.Equal(t, 30, cfg.IntervalSeconds)
	require.Equal(t, 20, cfg.Extractor.MinKOLCount)
	require.Equal(t, 12.5, cfg.Alerts.MinSOL)

	cfg = cfg.WithDefaults()
	require.Equal(t, filepath.Join("/var/lib/solwatch", "seen.db"), cfg.Store.DSN)
}

func TestApplyEnvURL(t *testing.T) {
	cfg := Config{URL: "https://from-file.example"}
	require.NoError(t, cfg.ApplyEnv(env(map[string]string{
		"CABALSPY_URL": "https://cabalspy.xyz/dashboard.php",
	})))
	require.Equal(t, "https://cabalspy.xyz/dashboard.php", cfg.URL)

	cfg = Config{}
	require.NoError(t, cfg.ApplyEnv(env(map[string]string{
		"SOLWATCH_URL": "https://solscan.io/account/abc",
		"CABALSPY_URL": "https://cabalspy.xyz/dashboard.php",
	})))
	require.Equal(t, "https://solscan.io/account/abc", cfg.URL)

	cfg = Config{}
	require.NoError(t, cfg.ApplyEnv(env(map[string]string{
		"SOLWATCH_URL": "",
		"CABALSPY_URL": "https://cabalspy.xyz/dashboard.php",
	})))
	require.Equal(t, "https://cabalspy.xyz/dashboard.php", cfg.URL)
}

func TestLoadCabalSpyURL(t *testing.T) {
	clearEnv(t)
	t.Setenv("CABALSPY_URL", "https://cabalspy.xyz/dashboard.php")
	t.Setenv("DISCORD_WEBHOOK", "https://discord.com/api/webhooks/1/abc")

	cfg, err := Load(filepath.Join(t.TempDir(), "missing.json5"))
	require.NoError(t, err)
	require.Equal(t, "https://cabalspy.xyz/dashboard.php", cfg.URL)
}

func TestApplyEnvInvalidNumber(t *testing.T) {
	cfg := Config{}
	err := cfg.ApplyEnv(env(map[string]string{"SCAN_INTERVAL_SECONDS": "soon"}))

	var cfgErr *monitor.ConfigError
	require.True(t, errors.As(err, &cfgErr))
	require.Equal(t, "SCAN_INTERVAL_SECONDS", cfgErr.Field)
}

func TestValidate(t *testing.T) {
	valid := Config{
		URL:     "https://solscan.io/account/abc",
		Discord: DiscordConfig{WebhookURL: "https://discord.com/api/webhooks/1/abc"},
	}.WithDefaults()
	require.NoError(t, valid.Validate())

	cases := []struct {
		field  string
		mutate func(c *Config)
	}{
		{"url", func(c *Config) { c.URL = "" }},
		{"url", func(c *Config) { c.URL = "solscan.io/account/abc" }},
		{"url", func(c *Config) { c.URL = "ftp://solscan.io" }},
		{"interval_seconds", func(c *Config) { c.IntervalSeconds = -1 }},
		{"timezone", func(c *Config) { c.Timezone = "Mars/Olympus_Mons" }},
		{"discord.webhook_url", func(c *Config) { c.Discord.WebhookURL = "" }},
		{"fetcher.kind", func(c *Config) { c.Fetcher.Kind = "curl" }},
		{"extractor.kind", func(c *Config) { c.Extractor.Kind = "rss" }},
		{"store.kind", func(c *Config) { c.Store.Kind = "redis" }},
		{"email.to", func(c *Config) { c.Email.Server = "smtp.example.com" }},
	}
	for _, tc := range cases {
		cfg := valid
		tc.mutate(&cfg)

		var cfgErr *monitor.ConfigError
		require.True(t, errors.As(cfg.Validate(), &cfgErr), tc.field)
		require.Equal(t, tc.field, cfgErr.Field)
	}

	dryRun := valid
	dryRun.Discord.WebhookURL = ""
	dryRun.DryRun = true
	require.NoError(t, dryRun.Validate())
}

func TestLoadFileEnvAndOverrides(t *testing.T) {
	clearEnv(t)
	dir := t.TempDir()
	path := filepath.Join(dir, "solwatch.yaml")
	err := os.WriteFile(path, []byte(`
url: https://solscan.io/account/abc
interval_seconds: 120
extractor:
  kind: kol
  min_kol_count: 18
`), 0600)
	require.NoError(t, err)
	t.Setenv("DISCORD_WEBHOOK", "https://discord.com/api/webhooks/1/abc")
	t.Setenv("SCAN_INTERVAL_SECONDS", "90")

	cfg, err := Load(path, func(c *Config) {
		c.DataDir = filepath.Join(dir, "state")
	})
	require.NoError(t, err)

	require.Equal(t, "https://solscan.io/account/abc", cfg.URL)
	require.Equal(t, 90*time.Second, cfg.Interval())
	require.Equal(t, ExtractorKOL, cfg.Extractor.Kind)
	require.Equal(t, 18, cfg.Extractor.MinKOLCount)
	require.Equal(t, filepath.Join(dir, "state", "seen.db"), cfg.Store.DSN)
}

func TestLoadMissingFile(t *testing.T) {
	clearEnv(t)
	_, err := Load(filepath.Join(t.TempDir(), "missing.json5"))

	var cfgErr *monitor.ConfigError
	require.True(t, errors.As(err, &cfgErr))
	require.Equal(t, "url", cfgErr.Field)

	cfg, err := Read(filepath.Join(t.TempDir(), "missing.json5"))
	require.NoError(t, err)
	require.Equal(t, 60, cfg.IntervalSeconds)
}

func TestLoadBrokenFile(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "solwatch.json5")
	require.NoError(t, os.WriteFile(path, []byte(`{url: `), 0600))

	_, err := Read(path)
	var cfgErr *monitor.ConfigError
	require.True(t, errors.As(err, &cfgErr))
	require.Equal(t, "file", cfgErr.Field)
}

func TestLoadDotenv(t *testing.T) {
	clearEnv(t)
	require.NoError(t, LoadDotenv(filepath.Join(t.TempDir(), ".env")))

	path := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(path, []byte("MIN_SOL_ALERT=55\n"), 0600))
	os.Unsetenv("MIN_SOL_ALERT")
	t.Cleanup(func() { os.Unsetenv("MIN_SOL_ALERT") })

	require.NoError(t, LoadDotenv(path))
	require.Equal(t, "55", os.Getenv("MIN_SOL_ALERT"))
}

func TestStoreConnectionString(t *testing.T) {
	store := StoreConfig{DSN: "libsql://solwatch-org.turso.io", AuthToken: "secret"}
	require.Equal(t, "libsql://solwatch-org.turso.io?authToken=secret", store.ConnectionString())

	store.DSN = "libsql://solwatch-org.turso.io?authToken=inline"
	require.Equal(t, store.DSN, store.ConnectionString())

	store.DSN = "data/seen.db"
	require.Equal(t, "data/seen.db", store.ConnectionString())
}
