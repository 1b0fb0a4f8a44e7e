// Package oanda fetches daily FX candles from the OANDA v20 REST API.
package oanda

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rustyeddy/marketsync/fetch"
	"github.com/rustyeddy/marketsync/market"
)

const (
	// PracticeURL is the URL for OANDA's practice/demo environment
	PracticeURL = "https://api-fxpractice.oanda.com"
	// LiveURL is the URL for OANDA's live trading environment
	LiveURL = "https://api-fxtrade.oanda.com"

	// Name is the provider name used in configuration.
	Name = "oanda"

	// maxCount is the largest page the candles endpoint returns.
	maxCount = 5000
)

// Granularity represents the time frame for candles
type Granularity string

const (
	H1 Granularity = "H1" // 1 hour
	H4 Granularity = "H4" // 4 hours
	D  Granularity = "D"  // 1 day
	W  Granularity = "W"  // 1 week
)

// PriceComponent represents the price component for candles
type PriceComponent string

const (
	MidPrice PriceComponent = "M" // Midpoint candles
	BidPrice PriceComponent = "B" // Bid candles
	AskPrice PriceComponent = "A" // Ask candles
)

// BaseURL maps an environment name onto its API host.
func BaseURL(env string) (string, error) {
	switch strings.ToLower(strings.TrimSpace(env)) {
	case "", "practice", "demo":
		return PracticeURL, nil
	case "live", "trade":
		return LiveURL, nil
	default:
		return "", fmt.Errorf("unknown OANDA env %q (want practice|live)", env)
	}
}

// Client represents an OANDA API client
type Client struct {
	BaseURL     string
	Token       string
	HTTP        *http.Client
	Price       PriceComponent
	Granularity Granularity

	// Start is the first day requested when there is no stored history.
	Start time.Time
	// Now is used to stop paging; defaults to time.Now.
	Now func() time.Time
}

// NewClient creates a new OANDA API client
func NewClient(token string, practice bool) *Client {
	baseURL := LiveURL
	if practice {
		baseURL = PracticeURL
	}

	return &Client{
		BaseURL:     baseURL,
		Token:       token,
		HTTP:        &http.Client{Timeout: 30 * time.Second},
		Price:       MidPrice,
		Granularity: D,
		Start:       time.Date(2005, 1, 1, 0, 0, 0, 0, time.UTC),
	}
}

// candleData represents the OHLC data in the API response
type candleData struct {
	O string `json:"o"` // Open price
	H string `json:"h"` // High price
	L string `json:"l"` // Low price
	C string `json:"c"` // Close price
}

// apiCandle represents a single candle in the API response
type apiCandle struct {
	Complete bool        `json:"complete"`
	Volume   int         `json:"volume"`
	Time     string      `json:"time"`
	Mid      *candleData `json:"mid,omitempty"`
	Bid      *candleData `json:"bid,omitempty"`
	Ask      *candleData `json:"ask,omitempty"`
}

// candlesResponse represents the API response for candles
type candlesResponse struct {
	Instrument  string      `json:"instrument"`
	Granularity string      `json:"granularity"`
	Candles     []apiCandle `json:"candles"`
}

// Fetch implements fetch.Fetcher. It pages forward from the day after
// since (or Start) until a page comes back short.
func (c *Client) Fetch(ctx context.Context, e market.Entity, since *market.Key) ([]market.Record, error) {
	from := c.Start
	if since != nil {
		from = since.Time().AddDate(0, 0, 1)
	}
	now := time.Now
	if c.Now != nil {
		now = c.Now
	}
	if from.After(now()) {
		return nil, nil
	}

	var out []market.Record
	for {
		page, err := c.GetCandles(ctx, e.ID, from, maxCount)
		if err != nil {
			return nil, err
		}
		out = append(out, page.Records...)
		if page.Seen < maxCount || !page.Last.After(from) {
			break
		}
		from = page.Last.Add(time.Second)
	}
	return out, nil
}

// Page is one response from the candles endpoint.
type Page struct {
	Records []market.Record // complete candles
	Seen    int             // candles returned, complete or not
	Last    time.Time       // time of the last candle returned
}

// GetCandles fetches up to count candles starting at from.
func (c *Client) GetCandles(ctx context.Context, instrument string, from time.Time, count int) (Page, error) {
	var page Page
	if instrument == "" {
		return page, fetch.Errorf(Name, "instrument is required")
	}
	if c.Token == "" {
		return page, fetch.Errorf(Name, "missing token")
	}
	if count <= 0 || count > maxCount {
		return page, fetch.Errorf(Name, "count must be between 1 and %d", maxCount)
	}

	price := c.Price
	if price == "" {
		price = MidPrice
	}
	gran := c.Granularity
	if gran == "" {
		gran = D
	}

	params := url.Values{}
	params.Set("price", string(price))
	params.Set("granularity", string(gran))
	params.Set("count", strconv.Itoa(count))
	params.Set("from", from.UTC().Format(time.RFC3339))
	params.Set("dailyAlignment", "0")
	params.Set("alignmentTimezone", "UTC")

	apiURL := fmt.Sprintf("%s/v3/instruments/%s/candles?%s", c.BaseURL, url.PathEscape(instrument), params.Encode())

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, apiURL, nil)
	if err != nil {
		return page, fetch.Errorf(Name, "create request: %w", err)
	}
	httpReq.Header.Set("Authorization", "Bearer "+c.Token)
	httpReq.Header.Set("Accept-Datetime-Format", "RFC3339")

	httpClient := c.HTTP
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	resp, err := httpClient.Do(httpReq)
	if err != nil {
		return page, fmt.Errorf("oanda: execute request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
		return page, fetch.StatusError(Name, resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var apiResp candlesResponse
	if err := json.NewDecoder(resp.Body).Decode(&apiResp); err != nil {
		return page, fetch.Errorf(Name, "decode response: %w", err)
	}

	page.Seen = len(apiResp.Candles)
	page.Records = make([]market.Record, 0, len(apiResp.Candles))
	for _, ac := range apiResp.Candles {
		t, err := time.Parse(time.RFC3339Nano, ac.Time)
		if err != nil {
			return page, fetch.Errorf(Name, "parse time %s: %w", ac.Time, err)
		}
		page.Last = t

		// the current day's candle is still forming
		if !ac.Complete {
			continue
		}

		var pd *candleData
		switch price {
		case BidPrice:
			pd = ac.Bid
		case AskPrice:
			pd = ac.Ask
		default:
			pd = ac.Mid
		}
		if pd == nil {
			continue
		}

		rec, err := toRecord(t, pd, ac.Volume)
		if err != nil {
			return page, fetch.Errorf(Name, "%s %s: %w", instrument, ac.Time, err)
		}
		page.Records = append(page.Records, rec)
	}
	return page, nil
}

func toRecord(t time.Time, pd *candleData, volume int) (market.Record, error) {
	var v [4]float64
	for i, s := range []string{pd.O, pd.H, pd.L, pd.C} {
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return market.Record{}, fmt.Errorf("parse price %q: %w", s, err)
		}
		v[i] = f
	}
	return market.NewPriceRecord(market.DateKey(t), v[0], v[1], v[2], v[3], float64(volume)), nil
}
