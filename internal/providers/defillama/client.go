package defillama

import (
	"context"
	"time"

	"github.com/solsweep/solsweep/internal/httpx"
	"github.com/solsweep/solsweep/internal/pacing"
)

const (
	defaultBase = "https://coins.llama.fi"
	solCoinKey  = "coingecko:solana"

	priceTimeout = 5 * time.Second

	// FallbackSOLPriceUSD is used when the oracle is unreachable so USD
	// display never blocks a run.
	FallbackSOLPriceUSD = 150.0
)

// Client fetches the reference asset's USD price.
type Client struct {
	http    *httpx.Client
	apiBase string
}

func New(httpClient *httpx.Client) *Client {
	return &Client{http: httpClient, apiBase: defaultBase}
}

type priceResponse struct {
	Coins map[string]struct {
		Price float64 `json:"price"`
	} `json:"coins"`
}

// SOLPriceUSD returns the current SOL/USD price, retrying transient
// failures and degrading to a fixed fallback when the service stays down.
// The second return reports whether the price is live.
func (c *Client) SOLPriceUSD(ctx context.Context) (float64, bool) {
	var price float64
	err := pacing.Retry(ctx, 3, 300*time.Millisecond, func(ctx context.Context) error {
		reqCtx, cancel := context.WithTimeout(ctx, priceTimeout)
		defer cancel()

		var resp priceResponse
		if err := c.http.GetJSON(reqCtx, c.apiBase+"/prices/current/"+solCoinKey, nil, &resp); err != nil {
			return err
		}
		price = resp.Coins[solCoinKey].Price
		return nil
	})
	if err != nil || price <= 0 {
		return FallbackSOLPriceUSD, false
	}
	return price, true
}
