package configutil

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

type testConfig struct {
	URL      string `json:"url" yaml:"url"`
	Interval int    `json:"interval" yaml:"interval"`
	Nested   struct {
		Enabled bool   `json:"enabled" yaml:"enabled"`
		Name    string `json:"name" yaml:"name"`
	} `json:"nested" yaml:"nested"`
}

func write(t testing.TB, path, contents string) {
	err := os.WriteFile(path, []byte(contents), 0600)
	if err != nil {
		t.Fatal(err)
	}
}

func TestReadConfigJson5WithLocalOverride(t *testing.T) {
	dir := t.TempDir()
	write(t, filepath.Join(dir, "solwatch.json5"), `{
		// comments are allowed
		url: "https://solscan.io/account/abc",
		interval: 60,
		nested: { enabled: true, name: "base" },
	}`)
	write(t, filepath.Join(dir, "solwatch.local.json5"), `{ interval: 30, nested: { name: "local" } }`)

	cfg, err := ReadConfig[testConfig](filepath.Join(dir, "solwatch.json5"))
	if err != nil {
		t.Fatal(err)
	}
	require.Equal(t, "https://solscan.io/account/abc", cfg.URL)
	require.Equal(t, 30, cfg.Interval)
	require.True(t, cfg.Nested.Enabled)
	require.Equal(t, "local", cfg.Nested.Name)
}

func TestReadConfigYaml(t *testing.T) {
	dir := t.TempDir()
	write(t, filepath.Join(dir, "solwatch.yaml"), "url: https://example.com\ninterval: 90\nnested:\n  enabled: true\n")

	cfg, err := ReadConfig[testConfig](filepath.Join(dir, "solwatch.yaml"))
	if err != nil {
		t.Fatal(err)
	}
	require.Equal(t, "https://example.com", cfg.URL)
	require.Equal(t, 90, cfg.Interval)
	require.True(t, cfg.Nested.Enabled)
}

func TestReadConfigMissing(t *testing.T) {
	_, err := ReadConfig[testConfig](filepath.Join(t.TempDir(), "absent.json5"))
	require.ErrorIs(t, err, os.ErrNotExist)
}

func TestReadConfigInvalid(t *testing.T) {
	dir := t.TempDir()
	write(t, filepath.Join(dir, "broken.json5"), `{ url: `)

	_, err := ReadConfig[testConfig](filepath.Join(dir, "broken.json5"))
	require.Error(t, err)
	require.NotErrorIs(t, err, os.ErrNotExist)
}
