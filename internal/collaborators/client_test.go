package collaborators

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func TestFetchPricingSnapshot(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(pricingSnapshotDTO{
			MidPrice:        "1.00",
			MarketSpreadBps: "20",
			Confidence:      "0.95",
			DepthCurve: []depthPointDTO{
				{AmountInRaw: "100", AmountOutRaw: "99", ImpactBps: "10"},
			},
			SourceTimestamp: time.Now(),
		})
	}))
	defer srv.Close()

	c := New(srv.URL, "", 5*time.Second)
	snap, err := c.FetchPricingSnapshot(context.Background(), "polygon", "0xaaa", "0xbbb")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !snap.MidPrice.Equal(decimal.RequireFromString("1.00")) {
		t.Fatalf("got mid %v, want 1.00", snap.MidPrice)
	}
	if len(snap.DepthCurve) != 1 {
		t.Fatalf("got %d depth points, want 1", len(snap.DepthCurve))
	}
}

func TestFetchPricingSnapshot_ServerError(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := New(srv.URL, "", 5*time.Second)
	_, err := c.FetchPricingSnapshot(context.Background(), "polygon", "0xaaa", "0xbbb")
	if err == nil {
		t.Fatal("expected error on 5xx response")
	}
}

func TestFetchChainSnapshot(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(chainSnapshotDTO{
			ChainID:        "polygon",
			StrategyID:     "strat-1",
			Active:         true,
			TokenOutBudget: "1000000",
			Allowance:      "1000000",
			LastUpdated:    time.Now(),
		})
	}))
	defer srv.Close()

	c := New("", srv.URL, 5*time.Second)
	snap, err := c.FetchChainSnapshot(context.Background(), "polygon", "strat-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !snap.Feasible() {
		t.Fatalf("expected feasible snapshot, got %+v", snap)
	}
}
