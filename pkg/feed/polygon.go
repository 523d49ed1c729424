package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// PolygonFeed downloads minute aggregates from Polygon.io
type PolygonFeed struct {
	apiKey  string
	baseURL string
	client  *http.Client
}

// NewPolygonFeed creates a new Polygon.io feed
func NewPolygonFeed(apiKey string) *PolygonFeed {
	return &PolygonFeed{
		apiKey:  apiKey,
		baseURL: "https://api.polygon.io",
		client: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

type polygonAggs struct {
	Results []struct {
		T int64   `json:"t"` // Timestamp (milliseconds)
		O float64 `json:"o"`
		H float64 `json:"h"`
		L float64 `json:"l"`
		C float64 `json:"c"`
		V float64 `json:"v"`
	} `json:"results"`
	Status    string `json:"status"`
	RequestID string `json:"request_id"`
	NextURL   string `json:"next_url"`
}

// FetchBars fetches minute bars in [start, end), following next_url pages
func (pf *PolygonFeed) FetchBars(ctx context.Context, symbol string, start, end time.Time) ([]Bar, error) {
	if pf.apiKey == "" {
		return nil, fmt.Errorf("polygon: api key is not set")
	}

	endpoint := fmt.Sprintf("%s/v2/aggs/ticker/%s/range/1/minute/%d/%d",
		pf.baseURL,
		symbol,
		start.UnixMilli(),
		end.Add(-time.Millisecond).UnixMilli(),
	)

	var bars []Bar
	for endpoint != "" {
		page, err := pf.fetchPage(ctx, endpoint)
		if err != nil {
			return nil, err
		}
		for _, r := range page.Results {
			bars = append(bars, Bar{
				Time:   time.UnixMilli(r.T).UTC(),
				Open:   r.O,
				High:   r.H,
				Low:    r.L,
				Close:  r.C,
				Volume: r.V,
			})
		}
		endpoint = page.NextURL
	}

	return Normalize("polygon:"+symbol, bars)
}

func (pf *PolygonFeed) fetchPage(ctx context.Context, endpoint string) (*polygonAggs, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	q := req.URL.Query()
	q.Set("apiKey", pf.apiKey)
	q.Set("adjusted", "true")
	q.Set("sort", "asc")
	q.Set("limit", "50000")
	req.URL.RawQuery = q.Encode()

	resp, err := pf.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch data: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("polygon API error: status %d, body: %s", resp.StatusCode, string(body))
	}

	var result polygonAggs
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}

	// Accept OK or DELAYED status for historical data
	if result.Status != "OK" && result.Status != "DELAYED" {
		return nil, fmt.Errorf("polygon API returned non-OK status: %s", result.Status)
	}
	return &result, nil
}
