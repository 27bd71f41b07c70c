package jupiter

import (
	"context"
	"encoding/base64"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	bin "github.com/gagliardetto/binary"
	"github.com/gagliardetto/solana-go"

	clierr "github.com/solsweep/solsweep/internal/errors"
	"github.com/solsweep/solsweep/internal/httpx"
)

const (
	defaultLiteBase = "https://lite-api.jup.ag/swap/v1"
	defaultProBase  = "https://api.jup.ag/swap/v1"

	quoteTimeout = 10 * time.Second
	swapTimeout  = 15 * time.Second
)

// Quote is the subset of a Jupiter quote the sweeper needs: the routed
// output amount plus the raw response echoed back on swap execution.
type Quote struct {
	InputMint  solana.PublicKey
	OutputMint solana.PublicKey
	InAmount   uint64
	OutAmount  uint64
	Raw        map[string]any
}

// Client talks to the Jupiter swap API. The free endpoint is used unless an
// API key routes to the pro tier.
type Client struct {
	http    *httpx.Client
	baseURL string
	apiKey  string
}

func New(httpClient *httpx.Client, apiKey string) *Client {
	apiKey = strings.TrimSpace(apiKey)
	baseURL := defaultLiteBase
	if apiKey != "" {
		baseURL = defaultProBase
	}
	return &Client{
		http:    httpClient,
		baseURL: baseURL,
		apiKey:  apiKey,
	}
}

func (c *Client) headers() map[string]string {
	if c.apiKey == "" {
		return nil
	}
	return map[string]string{"x-api-key": c.apiKey}
}

// GetQuote asks for a route converting amount of inputMint into outputMint.
// A missing route or malformed response returns an error the caller treats
// as "conversion unavailable".
func (c *Client) GetQuote(ctx context.Context, inputMint, outputMint solana.PublicKey, amount uint64, slippageBps int) (*Quote, error) {
	if amount == 0 {
		return nil, clierr.New(clierr.CodeValidation, "quote amount must be positive")
	}
	vals := url.Values{}
	vals.Set("inputMint", inputMint.String())
	vals.Set("outputMint", outputMint.String())
	vals.Set("amount", strconv.FormatUint(amount, 10))
	vals.Set("slippageBps", strconv.Itoa(slippageBps))

	endpoint := fmt.Sprintf("%s/quote?%s", strings.TrimRight(c.baseURL, "/"), vals.Encode())

	ctx, cancel := context.WithTimeout(ctx, quoteTimeout)
	defer cancel()

	var raw map[string]any
	if err := c.http.GetJSON(ctx, endpoint, c.headers(), &raw); err != nil {
		return nil, err
	}
	outStr, _ := raw["outAmount"].(string)
	out, err := strconv.ParseUint(strings.TrimSpace(outStr), 10, 64)
	if err != nil || out == 0 {
		return nil, clierr.New(clierr.CodeUnavailable, "quote missing output amount")
	}

	return &Quote{
		InputMint:  inputMint,
		OutputMint: outputMint,
		InAmount:   amount,
		OutAmount:  out,
		Raw:        raw,
	}, nil
}

type swapResponse struct {
	SwapTransaction string `json:"swapTransaction"`
}

// BuildSwapTransaction exchanges a quote for a serialized, partially-built
// transaction the wallet must sign and submit itself.
func (c *Client) BuildSwapTransaction(ctx context.Context, signer solana.PublicKey, quote *Quote) (*solana.Transaction, error) {
	if quote == nil || quote.Raw == nil {
		return nil, clierr.New(clierr.CodeValidation, "swap requires a prior quote")
	}

	endpoint := strings.TrimRight(c.baseURL, "/") + "/swap"
	body := map[string]any{
		"quoteResponse":             quote.Raw,
		"userPublicKey":             signer.String(),
		"wrapAndUnwrapSol":          true,
		"dynamicComputeUnitLimit":   true,
		"prioritizationFeeLamports": "auto",
	}

	ctx, cancel := context.WithTimeout(ctx, swapTimeout)
	defer cancel()

	var resp swapResponse
	if err := c.http.PostJSON(ctx, endpoint, body, c.headers(), &resp); err != nil {
		return nil, err
	}
	payload, err := base64.StdEncoding.DecodeString(strings.TrimSpace(resp.SwapTransaction))
	if err != nil {
		return nil, clierr.Wrap(clierr.CodeUnavailable, "decode swap transaction", err)
	}
	tx, err := solana.TransactionFromDecoder(bin.NewBinDecoder(payload))
	if err != nil {
		return nil, clierr.Wrap(clierr.CodeUnavailable, "parse swap transaction", err)
	}
	return tx, nil
}
