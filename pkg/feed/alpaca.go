package feed

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/alpacahq/alpaca-trade-api-go/v3/marketdata"
	"go.uber.org/zap"
)

// AlpacaFeed downloads minute bars from the Alpaca market data API.
// Symbols containing a slash (BTC/USD) are fetched as crypto.
type AlpacaFeed struct {
	client *marketdata.Client
	logger *zap.Logger
}

// NewAlpacaFeed creates a new Alpaca feed
func NewAlpacaFeed(apiKey, apiSecret string, logger *zap.Logger) (*AlpacaFeed, error) {
	if apiKey == "" || apiSecret == "" {
		return nil, fmt.Errorf("alpaca: api key and secret are required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AlpacaFeed{
		client: marketdata.NewClient(marketdata.ClientOpts{
			APIKey:    apiKey,
			APISecret: apiSecret,
		}),
		logger: logger,
	}, nil
}

// FetchBars fetches minute bars in [start, end)
func (af *AlpacaFeed) FetchBars(ctx context.Context, symbol string, start, end time.Time) ([]Bar, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var bars []Bar
	if strings.Contains(symbol, "/") {
		crypto, err := af.client.GetCryptoBars(symbol, marketdata.GetCryptoBarsRequest{
			TimeFrame: marketdata.OneMin,
			Start:     start,
			End:       end,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to fetch crypto bars for %s: %w", symbol, err)
		}
		bars = make([]Bar, 0, len(crypto))
		for _, b := range crypto {
			bars = append(bars, Bar{
				Time:   b.Timestamp.UTC(),
				Open:   b.Open,
				High:   b.High,
				Low:    b.Low,
				Close:  b.Close,
				Volume: float64(b.Volume),
			})
		}
	} else {
		stock, err := af.client.GetBars(symbol, marketdata.GetBarsRequest{
			TimeFrame:  marketdata.OneMin,
			Adjustment: marketdata.Split,
			Start:      start,
			End:        end,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to fetch bars for %s: %w", symbol, err)
		}
		bars = make([]Bar, 0, len(stock))
		for _, b := range stock {
			bars = append(bars, Bar{
				Time:   b.Timestamp.UTC(),
				Open:   b.Open,
				High:   b.High,
				Low:    b.Low,
				Close:  b.Close,
				Volume: float64(b.Volume),
			})
		}
	}

	af.logger.Debug("alpaca bars fetched",
		zap.String("symbol", symbol),
		zap.Int("bars", len(bars)),
	)
	return Normalize("alpaca:"+symbol, bars)
}
