// Package twelvedata fetches daily bars for stocks, indices, crypto and
// commodities from the Twelve Data time_series endpoint.
package twelvedata

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rustyeddy/marketsync/fetch"
	"github.com/rustyeddy/marketsync/market"
)

const (
	Name           = "twelvedata"
	DefaultBaseURL = "https://api.twelvedata.com"
)

// Config holds configuration for the Twelve Data API client.
type Config struct {
	APIKey     string
	BaseURL    string
	OutputSize int // rows per request, at most 5000
}

// Client implements fetch.Fetcher.
type Client struct {
	cfg    Config
	client *http.Client
}

var _ fetch.Fetcher = (*Client)(nil)

func New(cfg Config, client *http.Client) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.OutputSize <= 0 || cfg.OutputSize > 5000 {
		cfg.OutputSize = 5000
	}
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	return &Client{cfg: cfg, client: client}
}

// Symbol is the Twelve Data ticker for e. Pair ids are configured with an
// underscore ("BTC_USD") and sent with a slash.
func Symbol(e market.Entity) string {
	if e.Category == market.Crypto || e.Category == market.FX {
		return strings.ReplaceAll(e.ID, "_", "/")
	}
	return e.ID
}

type value struct {
	Datetime string `json:"datetime"`
	Open     string `json:"open"`
	High     string `json:"high"`
	Low      string `json:"low"`
	Close    string `json:"close"`
	Volume   string `json:"volume"`
}

type timeSeriesResponse struct {
	Status  string  `json:"status"`
	Code    int     `json:"code"`
	Message string  `json:"message"`
	Values  []value `json:"values"`
}

// Fetch asks for daily bars from the day after since. Twelve Data returns
// newest first; the merge sorts them.
func (c *Client) Fetch(ctx context.Context, e market.Entity, since *market.Key) ([]market.Record, error) {
	q := url.Values{}
	q.Set("symbol", Symbol(e))
	q.Set("interval", "1day")
	q.Set("outputsize", strconv.Itoa(c.cfg.OutputSize))
	q.Set("timezone", "UTC")
	q.Set("order", "ASC")
	if since != nil {
		q.Set("start_date", since.Time().AddDate(0, 0, 1).Format(market.DateLayout))
	}
	q.Set("apikey", c.cfg.APIKey)

	u := fmt.Sprintf("%s/time_series?%s", strings.TrimRight(c.cfg.BaseURL, "/"), q.Encode())
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fetch.Errorf(Name, "create request: %w", err)
	}

	res, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("twelvedata: %w", err)
	}
	defer func() {
		if err := res.Body.Close(); err != nil {
			slog.Warn("failed to close response body", "error", err)
		}
	}()

	if res.StatusCode >= 400 {
		b, _ := io.ReadAll(io.LimitReader(res.Body, 64*1024))
		return nil, fetch.StatusError(Name, res.StatusCode, strings.TrimSpace(string(b)))
	}

	var body timeSeriesResponse
	if err := json.NewDecoder(res.Body).Decode(&body); err != nil {
		return nil, fetch.Errorf(Name, "decode response: %w", err)
	}
	if body.Status == "error" {
		// the API reports quota and lookup failures in the body with a 200
		code := body.Code
		if code == 0 {
			code = http.StatusBadRequest
		}
		// "No data is available on the specified dates" just means up to date
		if code == http.StatusBadRequest && since != nil && strings.Contains(strings.ToLower(body.Message), "no data") {
			return nil, nil
		}
		return nil, fetch.StatusError(Name, code, body.Message)
	}

	recs := make([]market.Record, 0, len(body.Values))
	for _, v := range body.Values {
		r, err := toRecord(v)
		if err != nil {
			return nil, fetch.Errorf(Name, "%s: %w", e.ID, err)
		}
		recs = append(recs, r)
	}
	return recs, nil
}

func toRecord(v value) (market.Record, error) {
	k, err := market.ParseKey(v.Datetime)
	if err != nil {
		return market.Record{}, fmt.Errorf("parse time %q: %w", v.Datetime, err)
	}
	r := market.NewRecord(k)

	fields := []struct{ name, raw string }{
		{market.FieldOpen, v.Open},
		{market.FieldHigh, v.High},
		{market.FieldLow, v.Low},
		{market.FieldClose, v.Close},
	}
	for _, f := range fields {
		x, err := strconv.ParseFloat(f.raw, 64)
		if err != nil {
			return market.Record{}, fmt.Errorf("parse %s %q: %w", f.name, f.raw, err)
		}
		r.Set(f.name, x)
	}

	// FX and index series come without volume
	if v.Volume != "" {
		vol, err := strconv.ParseFloat(v.Volume, 64)
		if err != nil {
			return market.Record{}, fmt.Errorf("parse volume %q: %w", v.Volume, err)
		}
		r.Set(market.FieldVolume, vol)
	}
	return r, nil
}
