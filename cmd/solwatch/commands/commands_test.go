package commands

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func clearEnv(t *testing.T) {
	for _, key := range []string{
		"DISCORD_WEBHOOK", "SOLWATCH_URL", "SCAN_INTERVAL_SECONDS",
		"DATA_DIR", "MIN_KOL_COUNT", "MIN_SOL_ALERT",
	} {
		t.Setenv(key, "")
	}
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	dir := t.TempDir()
	args = append(args,
		"--config", filepath.Join(dir, "missing.json5"),
		"--env-file", filepath.Join(dir, ".env"),
	)

	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetArgs(args)
	err := rootCmd.ExecuteContext(context.Background())
	return out.String(), err
}

const transactionsPage = `<html><body><table id="transactions-table">
<tr><th>Signature</th><th>Token</th><th>Side</th><th>Amount</th><th>Age</th></tr>
%s
</table></body></html>`

func buyRow(sig string, amount string) string {
	return fmt.Sprintf(
		`<tr><td><a href="/tx/%s">%s</a></td><td>bonk</td><td><span class="buy-text">buy</span></td><td>%s SOL</td><td>1m ago</td></tr>`,
		sig, sig[:4], amount,
	)
}

func TestRunOnceDryRun(t *testing.T) {
	clearEnv(t)

	page := fmt.Sprintf(transactionsPage, strings.Join([]string{
		buyRow("sig3aaaa", "20"),
		buyRow("sig2aaaa", "20,5"),
		buyRow("sig1aaaa", "20"),
	}, "\n"))
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("content-type", "text/html")
		_, _ = w.Write([]byte(page))
	}))
	defer server.Close()

	dataDir := t.TempDir()
	_, err := execute(t,
		"run", "--once", "--dry-run",
		"--url", server.URL+"/token/bonk",
		"--fetcher", "http",
		"--data-dir", dataDir,
	)
	require.NoError(t, err)

	// three rows marked seen silently plus the volume alert
	out, err := execute(t, "seen", "count", "--data-dir", dataDir)
	require.NoError(t, err)
	require.Equal(t, "4\n", out)

	out, err = execute(t, "seen", "list", "--data-dir", dataDir)
	require.NoError(t, err)
	require.Contains(t, out, "sig1aaaa")
	require.Contains(t, out, "volume:BONK:")
}

func TestRunMissingURL(t *testing.T) {
	clearEnv(t)
	_, err := execute(t, "run", "--once", "--dry-run", "--url", "", "--data-dir", t.TempDir())
	require.ErrorContains(t, err, "url")
}

func TestSeenPrune(t *testing.T) {
	clearEnv(t)
	out, err := execute(t, "seen", "prune", "--data-dir", t.TempDir())
	require.NoError(t, err)
	require.Contains(t, out, "pruned 0 ids")
}

func TestTestWebhook(t *testing.T) {
	clearEnv(t)

	var body string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var buf bytes.Buffer
		_, _ = buf.ReadFrom(r.Body)
		body = buf.String()
		w.WriteHeader(http.StatusNoContent)
	}))
	defer server.Close()
	t.Setenv("DISCORD_WEBHOOK", server.URL+"/api/webhooks/1/token")

	out, err := execute(t, "test-webhook", "-m", "hello")
	require.NoError(t, err)
	require.Contains(t, out, "delivered after 1 attempt(s)")
	require.Contains(t, body, `"content":"hello"`)
}

func TestTestWebhookMissing(t *testing.T) {
	clearEnv(t)
	_, err := execute(t, "test-webhook")
	require.ErrorContains(t, err, "discord.webhook_url")
}
