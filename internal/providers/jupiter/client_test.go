package jupiter

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gagliardetto/solana-go"

	clierr "github.com/solsweep/solsweep/internal/errors"
	"github.com/solsweep/solsweep/internal/httpx"
	"github.com/solsweep/solsweep/internal/model"
)

func TestGetQuoteParsesOutAmount(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/quote", func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("slippageBps"); got != "50" {
			t.Errorf("unexpected slippageBps %q", got)
		}
		_, _ = w.Write([]byte(`{"outAmount":"1500000000","inAmount":"2000000","routePlan":[]}`))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	c := New(httpx.New(2*time.Second, 0), "")
	c.baseURL = srv.URL

	mint := solana.NewWallet().PublicKey()
	quote, err := c.GetQuote(context.Background(), mint, model.WSOLMint, 2_000_000, 50)
	if err != nil {
		t.Fatalf("GetQuote failed: %v", err)
	}
	if quote.OutAmount != 1_500_000_000 {
		t.Fatalf("unexpected out amount %d", quote.OutAmount)
	}
}

func TestGetQuoteMissingRouteIsUnavailable(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/quote", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"error":"no route found"}`))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	c := New(httpx.New(2*time.Second, 0), "")
	c.baseURL = srv.URL

	_, err := c.GetQuote(context.Background(), solana.NewWallet().PublicKey(), model.WSOLMint, 1000, 50)
	if err == nil {
		t.Fatalf("expected error for missing route")
	}
	if cliErr, ok := clierr.As(err); !ok || cliErr.Code != clierr.CodeUnavailable {
		t.Fatalf("expected unavailable code, got %v", err)
	}
}

func TestGetQuoteRejectsZeroAmount(t *testing.T) {
	c := New(httpx.New(time.Second, 0), "")
	if _, err := c.GetQuote(context.Background(), solana.NewWallet().PublicKey(), model.WSOLMint, 0, 50); err == nil {
		t.Fatalf("expected validation error for zero amount")
	}
}

func TestBuildSwapTransactionRequiresQuote(t *testing.T) {
	c := New(httpx.New(time.Second, 0), "")
	if _, err := c.BuildSwapTransaction(context.Background(), solana.NewWallet().PublicKey(), nil); err == nil {
		t.Fatalf("expected validation error without quote")
	}
}

func TestProTierSelectedWithAPIKey(t *testing.T) {
	c := New(httpx.New(time.Second, 0), "key-123")
	if c.baseURL != defaultProBase {
		t.Fatalf("expected pro base URL, got %s", c.baseURL)
	}
	if c.headers()["x-api-key"] != "key-123" {
		t.Fatalf("expected api key header")
	}
}
