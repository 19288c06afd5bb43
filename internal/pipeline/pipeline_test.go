package pipeline

import (
	"io"
	"log/slog"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"

	"quoteagent/internal/clock"
	"quoteagent/internal/policy"
	"quoteagent/internal/state"
	"quoteagent/pkg/types"
)

var (
	tokenA = common.HexToAddress("0x1111111111111111111111111111111111111111")
	tokenB = common.HexToAddress("0x2222222222222222222222222222222222222222")
	maker  = common.HexToAddress("0x3333333333333333333333333333333333333333")
	taker  = common.HexToAddress("0x5555555555555555555555555555555555555555")
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newPipeline() *Pipeline {
	chains := policy.NewChainSet([]string{"polygon"})
	store := state.New(clock.System{})
	return New(chains, store, clock.System{}, testLogger(), time.Minute)
}

func goodRequest() types.QuoteRequest {
	return types.QuoteRequest{
		ChainID:        "polygon",
		Side:           types.SELL,
		TokenIn:        tokenA,
		TokenOut:       tokenB,
		Amount:         big.NewInt(100),
		Taker:          taker,
		IdempotencyKey: "req-1",
	}
}

func goodPolicy() types.MakerPolicy {
	return types.MakerPolicy{
		Maker:         maker,
		AllowedPairs:  map[types.PairKey]bool{types.NewPairKey(tokenA, tokenB): true},
		MaxTradeSize:  big.NewInt(1_000_000),
		DailyCaps:     map[common.Address]*big.Int{tokenB: big.NewInt(5_000_000)},
		Spread:        types.SpreadBand{MinBps: 5, MaxBps: 50},
		DefaultTTLSec: 30,
		MinConfidence: decimal.NewFromFloat(0.5),
		FeeBps:        10,
	}
}

func goodPricing() types.PricingSnapshot {
	return types.PricingSnapshot{
		MidPrice:        decimal.NewFromInt(1),
		MarketSpreadBps: decimal.NewFromInt(20),
		Confidence:      decimal.NewFromFloat(0.95),
		DepthCurve: []types.DepthPoint{
			{AmountInRaw: big.NewInt(100), AmountOutRaw: big.NewInt(99), ImpactBps: decimal.NewFromInt(10)},
			{AmountInRaw: big.NewInt(1000), AmountOutRaw: big.NewInt(970), ImpactBps: decimal.NewFromInt(30)},
		},
	}
}

func goodChain() types.ChainSnapshot {
	return types.ChainSnapshot{
		ChainID:        "polygon",
		Active:         true,
		TokenOutBudget: big.NewInt(1_000_000),
		Allowance:      big.NewInt(1_000_000),
	}
}

func TestRun_HappyPath(t *testing.T) {
	t.Parallel()
	p := newPipeline()
	intent, expl := p.Run(goodRequest(), goodPolicy(), goodPricing(), goodChain())

	if intent.Rejected {
		t.Fatalf("expected accepted intent, got rejected: %+v", intent)
	}
	if intent.Nonce != 0 {
		t.Fatalf("expected first nonce 0, got %d", intent.Nonce)
	}
	if intent.AmountOut.Cmp(big.NewInt(99)) != 0 {
		t.Fatalf("got amount_out %v, want 99", intent.AmountOut)
	}
	if expl.PricingSource != "inline" {
		t.Fatalf("got pricing source %q", expl.PricingSource)
	}
}

func TestRun_IdempotentReplay(t *testing.T) {
	t.Parallel()
	p := newPipeline()
	req := goodRequest()
	first, _ := p.Run(req, goodPolicy(), goodPricing(), goodChain())

	second, expl := p.Run(req, goodPolicy(), goodPricing(), goodChain())
	if second.Nonce != first.Nonce {
		t.Fatalf("expected idempotent replay to return the same nonce, got %d vs %d", second.Nonce, first.Nonce)
	}
	if expl.PricingSource != "cached" {
		t.Fatalf("expected cached pricing source on replay, got %q", expl.PricingSource)
	}
}

func TestRun_RejectsInvalidChain(t *testing.T) {
	t.Parallel()
	p := newPipeline()
	req := goodRequest()
	req.ChainID = "unknown-chain"
	intent, _ := p.Run(req, goodPolicy(), goodPricing(), goodChain())
	if !intent.Rejected || intent.RejectionReason != types.ReasonInvalidChain {
		t.Fatalf("got %+v, want INVALID_CHAIN", intent)
	}
	if intent.Nonce != -1 || intent.Expiry != 0 {
		t.Fatalf("expected zeroed rejected intent fields, got %+v", intent)
	}
}

func TestRun_RejectsOnFeasibilityFailureWithoutCommitting(t *testing.T) {
	t.Parallel()
	p := newPipeline()
	chain := goodChain()
	chain.Allowance = big.NewInt(0)

	req := goodRequest()
	intent, expl := p.Run(req, goodPolicy(), goodPricing(), chain)
	if !intent.Rejected || intent.RejectionReason != types.ReasonInsufficientAllowance {
		t.Fatalf("got %+v, want INSUFFICIENT_ALLOWANCE", intent)
	}
	if len(expl.FeasibilityTrace) == 0 {
		t.Fatal("expected a feasibility trace to be attached")
	}

	// Nothing committed: a fresh request with the same idempotency key
	// should re-run the pipeline rather than hit a cached accepted intent.
	intent2, _ := p.Run(req, goodPolicy(), goodPricing(), goodChain())
	if intent2.Rejected {
		t.Fatalf("expected retry with healthy chain snapshot to succeed, got %+v", intent2)
	}
}

func TestRun_RejectsExcessiveImpact(t *testing.T) {
	t.Parallel()
	p := newPipeline()
	pol := goodPolicy()
	pol.MaxImpactBps = 5 // below the recomputed impact at size 100: |99/100 - 1| * 10_000 = 100bps

	intent, _ := p.Run(goodRequest(), pol, goodPricing(), goodChain())
	if !intent.Rejected || intent.RejectionReason != types.ReasonExcessiveImpact {
		t.Fatalf("got %+v, want EXCESSIVE_IMPACT", intent)
	}
}

func TestRun_NonMonotoneCurveIsInternalError(t *testing.T) {
	t.Parallel()
	p := newPipeline()
	pricing := goodPricing()
	// second point's amount_in_raw does not strictly increase: a provider
	// contract violation, not a policy outcome.
	pricing.DepthCurve[1].AmountInRaw = big.NewInt(100)

	intent, _ := p.Run(goodRequest(), goodPolicy(), pricing, goodChain())
	if !intent.Rejected || intent.RejectionReason != types.ReasonInternalError {
		t.Fatalf("got %+v, want INTERNAL_ERROR", intent)
	}
}

func TestRun_ConcurrentSameKeyRequestsCoalesceToOneSynthesis(t *testing.T) {
	t.Parallel()
	p := newPipeline()
	req := goodRequest()

	const n = 20
	var wg sync.WaitGroup
	wg.Add(n)
	intents := make([]types.QuoteIntent, n)
	for i := 0; i < n; i++ {
		i := i
		go func() {
			defer wg.Done()
			intents[i], _ = p.Run(req, goodPolicy(), goodPricing(), goodChain())
		}()
	}
	wg.Wait()

	nonce := intents[0].Nonce
	for _, in := range intents {
		if in.Rejected {
			t.Fatalf("expected all coalesced callers to see the accepted intent, got %+v", in)
		}
		if in.Nonce != nonce {
			t.Fatalf("expected every coalesced caller to observe the same nonce (no double synthesis), got %d and %d", nonce, in.Nonce)
		}
	}
}

func TestRun_KeylessRequestsDeriveSameKeyAndReplay(t *testing.T) {
	t.Parallel()
	p := newPipeline()
	req := goodRequest()
	req.IdempotencyKey = ""

	first, expl1 := p.Run(req, goodPolicy(), goodPricing(), goodChain())
	if expl1.PricingSource != "inline" {
		t.Fatalf("expected first keyless call to synthesize, got pricing source %q", expl1.PricingSource)
	}

	second, expl2 := p.Run(req, goodPolicy(), goodPricing(), goodChain())
	if expl2.PricingSource != "cached" {
		t.Fatalf("expected second identical keyless call to hit the derived-key cache, got %q", expl2.PricingSource)
	}
	if second.Nonce != first.Nonce {
		t.Fatalf("expected keyless replay to return the same nonce, got %d vs %d", second.Nonce, first.Nonce)
	}
}

func TestRun_DistinctKeylessRequestsGetDistinctNonces(t *testing.T) {
	t.Parallel()
	p := newPipeline()
	req1 := goodRequest()
	req1.IdempotencyKey = ""
	req2 := req1
	req2.Amount = big.NewInt(200)

	i1, _ := p.Run(req1, goodPolicy(), goodPricing(), goodChain())
	i2, _ := p.Run(req2, goodPolicy(), goodPricing(), goodChain())
	if i2.Nonce == i1.Nonce {
		t.Fatalf("expected distinct requests to derive distinct keys and get distinct nonces, both got %d", i1.Nonce)
	}
}

func TestRun_SecondDistinctRequestGetsIncrementingNonce(t *testing.T) {
	t.Parallel()
	p := newPipeline()
	req1 := goodRequest()
	req1.IdempotencyKey = "a"
	req2 := goodRequest()
	req2.IdempotencyKey = "b"

	i1, _ := p.Run(req1, goodPolicy(), goodPricing(), goodChain())
	i2, _ := p.Run(req2, goodPolicy(), goodPricing(), goodChain())
	if i2.Nonce <= i1.Nonce {
		t.Fatalf("expected strictly increasing nonces, got %d then %d", i1.Nonce, i2.Nonce)
	}
}
