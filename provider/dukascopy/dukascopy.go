// Package dukascopy reads daily candles from the public Dukascopy datafeed.
//
// Each year of daily bid candles is one LZMA-compressed .bi5 file of
// 24-byte big-endian rows:
//
//	uint32 seconds since the start of the year
//	uint32 open, close, low, high in points
//	float32 volume
package dukascopy

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/ulikunitz/xz/lzma"

	"github.com/rustyeddy/marketsync/fetch"
	"github.com/rustyeddy/marketsync/market"
)

const (
	Name        = "dukascopy"
	DefaultBase = "https://datafeed.dukascopy.com/datafeed"

	rowSize = 24
)

// Config for the datafeed adapter.
type Config struct {
	BaseURL  string
	Scale    float64            // points per unit price, 100000 for most pairs
	Scales   map[string]float64 // per-symbol overrides
	FromYear int                // first year fetched when there is no history
	// CacheDir keeps downloaded files of finished years, which never change.
	CacheDir string
}

type Client struct {
	cfg    Config
	client *http.Client
	now    func() time.Time
}

var _ fetch.Fetcher = (*Client)(nil)

func New(cfg Config, client *http.Client) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBase
	}
	if cfg.Scale <= 0 {
		cfg.Scale = 100000
	}
	if cfg.FromYear <= 0 {
		cfg.FromYear = 2003
	}
	if client == nil {
		client = &http.Client{Timeout: 45 * time.Second}
	}
	return &Client{cfg: cfg, client: client, now: time.Now}
}

// Symbol turns an entity id like "EUR_USD" or "eur/usd" into "EURUSD".
func Symbol(id string) string {
	r := strings.NewReplacer("_", "", "/", "", "-", "")
	return strings.ToUpper(r.Replace(strings.TrimSpace(id)))
}

func (c *Client) scale(sym string) float64 {
	if s, ok := c.cfg.Scales[sym]; ok && s > 0 {
		return s
	}
	if strings.Contains(sym, "JPY") {
		return 1000
	}
	return c.cfg.Scale
}

func dayCandlesURL(base, symbol string, year int) string {
	return fmt.Sprintf("%s/%s/%04d/BID_candles_day_1.bi5", strings.TrimRight(base, "/"), symbol, year)
}

// Fetch downloads one file per year from the year of since (or FromYear)
// through the current year. Missing years are skipped.
func (c *Client) Fetch(ctx context.Context, e market.Entity, since *market.Key) ([]market.Record, error) {
	sym := Symbol(e.ID)
	if sym == "" {
		return nil, fetch.Errorf(Name, "empty symbol")
	}

	now := c.now().UTC()
	first := c.cfg.FromYear
	if since != nil {
		first = since.Time().Year()
	}

	var out []market.Record
	for year := first; year <= now.Year(); year++ {
		raw, err := c.year(ctx, sym, year, year < now.Year())
		if err != nil {
			return nil, err
		}
		if len(raw) == 0 {
			continue
		}
		recs, err := Decode(raw, year, c.scale(sym))
		if err != nil {
			return nil, fetch.Errorf(Name, "%s %d: %w", sym, year, err)
		}
		out = append(out, recs...)
	}
	return out, nil
}

// year returns the compressed file for one year, or nil on 404.
func (c *Client) year(ctx context.Context, sym string, year int, final bool) ([]byte, error) {
	url := dayCandlesURL(c.cfg.BaseURL, sym, year)

	if c.cfg.CacheDir != "" && final {
		dst := filepath.Join(c.cfg.CacheDir, sym, fmt.Sprintf("%04d", year), "BID_candles_day_1.bi5")
		status, err := c.downloadIfMissing(ctx, url, dst)
		if err != nil {
			return nil, err
		}
		if status == http.StatusNotFound {
			return nil, nil
		}
		return os.ReadFile(dst)
	}

	resp, err := c.get(ctx, url)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusNotFound {
		return nil, nil
	}
	return io.ReadAll(resp.Body)
}

func (c *Client) get(ctx context.Context, url string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fetch.Errorf(Name, "create request: %w", err)
	}
	req.Header.Set("User-Agent", "marketsync/1.0")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("dukascopy: %w", err)
	}
	if resp.StatusCode == http.StatusNotFound {
		return resp, nil
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		resp.Body.Close()
		return nil, fetch.StatusError(Name, resp.StatusCode, url)
	}
	return resp, nil
}

// downloadIfMissing fetches url into dst through a .part file.
func (c *Client) downloadIfMissing(ctx context.Context, url, dst string) (int, error) {
	if st, err := os.Stat(dst); err == nil && st.Size() > 0 {
		return http.StatusOK, nil
	}
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return 0, err
	}

	resp, err := c.get(ctx, url)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusNotFound {
		return resp.StatusCode, nil
	}

	tmp := dst + ".part"
	f, err := os.Create(tmp)
	if err != nil {
		return resp.StatusCode, err
	}
	_, copyErr := io.Copy(f, resp.Body)
	closeErr := f.Close()
	if copyErr != nil {
		_ = os.Remove(tmp)
		return resp.StatusCode, fmt.Errorf("dukascopy: %w", copyErr)
	}
	if closeErr != nil {
		_ = os.Remove(tmp)
		return resp.StatusCode, closeErr
	}
	if err := os.Rename(tmp, dst); err != nil {
		_ = os.Remove(tmp)
		return resp.StatusCode, err
	}
	return resp.StatusCode, nil
}

// Decode decompresses a day-candle file for year and converts its rows.
func Decode(bi5 []byte, year int, scale float64) ([]market.Record, error) {
	r, err := lzma.NewReader(bytes.NewReader(bi5))
	if err != nil {
		return nil, fmt.Errorf("lzma: %w", err)
	}
	raw, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("lzma: %w", err)
	}
	if len(raw)%rowSize != 0 {
		return nil, fmt.Errorf("payload of %d bytes is not a multiple of %d", len(raw), rowSize)
	}

	start := time.Date(year, 1, 1, 0, 0, 0, 0, time.UTC)
	recs := make([]market.Record, 0, len(raw)/rowSize)
	for off := 0; off < len(raw); off += rowSize {
		row := raw[off : off+rowSize]
		secs := binary.BigEndian.Uint32(row[0:4])
		open := float64(binary.BigEndian.Uint32(row[4:8])) / scale
		cl := float64(binary.BigEndian.Uint32(row[8:12])) / scale
		low := float64(binary.BigEndian.Uint32(row[12:16])) / scale
		high := float64(binary.BigEndian.Uint32(row[16:20])) / scale
		vol := float64(math.Float32frombits(binary.BigEndian.Uint32(row[20:24])))

		// weekends are padded with flat zero-volume rows
		if vol == 0 && open == high && high == low {
			continue
		}

		t := start.Add(time.Duration(secs) * time.Second)
		recs = append(recs, market.NewPriceRecord(market.DateKey(t), open, high, low, cl, vol))
	}
	return recs, nil
}
