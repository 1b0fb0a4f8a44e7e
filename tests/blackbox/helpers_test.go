//go:build blackbox

package blackbox

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	_ "github.com/mattn/go-sqlite3"
)

func contains(s, sub string) bool { return strings.Contains(s, sub) }

// writeConfig writes marketsync.yaml into dir with both HTTP providers
// pointed at test servers.
func writeConfig(t *testing.T, dir, oandaURL, twelveURL string) string {
	t.Helper()
	cfg := fmt.Sprintf(`data_dir: %[1]s/data
state_db: %[1]s/state.sqlite
workers: 2
log_level: warn
retry: { attempts: 2, initial: 10ms, max: 20ms }
rate: { per_second: 0 }
providers:
  oanda: { base_url: %[2]s, token_env: BB_OANDA_TOKEN, start: "2024-01-01" }
  twelvedata: { base_url: %[3]s, api_key_env: BB_TWELVE_KEY, outputsize: 100 }
entities:
  - { id: EUR_USD, category: fx, provider: oanda }
  - { id: AAPL, category: stock, provider: twelvedata }
`, dir, oandaURL, twelveURL)

	path := filepath.Join(dir, "marketsync.yaml")
	if err := os.WriteFile(path, []byte(cfg), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func countRows(t *testing.T, dbPath, query string, args ...any) int {
	t.Helper()
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()

	var n int
	if err := db.QueryRow(query, args...).Scan(&n); err != nil {
		t.Fatal(err)
	}
	return n
}

func lines(t *testing.T, path string) []string {
	t.Helper()
	b, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	return strings.Split(strings.TrimRight(string(b), "\n"), "\n")
}
