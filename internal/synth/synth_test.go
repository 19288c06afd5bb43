package synth

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"

	"quoteagent/pkg/types"
)

var (
	tokenA = common.HexToAddress("0x1111111111111111111111111111111111111111")
	tokenB = common.HexToAddress("0x2222222222222222222222222222222222222222")
)

func curvePricing() types.PricingSnapshot {
	return types.PricingSnapshot{
		MidPrice: decimal.NewFromInt(1),
		DepthCurve: []types.DepthPoint{
			{AmountInRaw: big.NewInt(100), AmountOutRaw: big.NewInt(99), ImpactBps: decimal.NewFromInt(10)},
			{AmountInRaw: big.NewInt(200), AmountOutRaw: big.NewInt(196), ImpactBps: decimal.NewFromInt(20)},
		},
	}
}

func discreteBidAsk() types.PricingSnapshot {
	bid := decimal.NewFromFloat(0.99)
	ask := decimal.NewFromFloat(1.01)
	return types.PricingSnapshot{
		MidPrice: decimal.NewFromInt(1),
		Bid:      &bid,
		Ask:      &ask,
	}
}

func TestSynthesize_SellWithCurve(t *testing.T) {
	t.Parallel()
	req := types.QuoteRequest{Side: types.SELL, TokenIn: tokenA, TokenOut: tokenB, Amount: big.NewInt(100)}
	pol := types.MakerPolicy{FeeBps: 10}
	res, err := Synthesize(req, pol, curvePricing(), decimal.NewFromInt(20))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !res.UsedCurve {
		t.Fatal("expected curve path")
	}
	if res.AmountOut.Cmp(big.NewInt(99)) != 0 {
		t.Fatalf("got amount_out %v, want 99", res.AmountOut)
	}
	// min_out_net = floor(99 * (1 - 10/10000)) = floor(98.901) = 98
	if res.MinOutNet.Cmp(big.NewInt(98)) != 0 {
		t.Fatalf("got min_out_net %v, want 98", res.MinOutNet)
	}
}

func TestSynthesize_SellWithDiscreteBid(t *testing.T) {
	t.Parallel()
	req := types.QuoteRequest{Side: types.SELL, TokenIn: tokenA, TokenOut: tokenB, Amount: big.NewInt(1000)}
	pol := types.MakerPolicy{FeeBps: 10}
	res, err := Synthesize(req, pol, discreteBidAsk(), decimal.NewFromInt(20))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.UsedCurve {
		t.Fatal("expected discrete-bid path, not curve")
	}
	if res.AmountOut.Sign() <= 0 {
		t.Fatalf("expected positive amount_out, got %v", res.AmountOut)
	}
}

func TestSynthesize_BuyWithCurveInversion(t *testing.T) {
	t.Parallel()
	req := types.QuoteRequest{Side: types.BUY, TokenIn: tokenA, TokenOut: tokenB, Amount: big.NewInt(99)}
	pol := types.MakerPolicy{FeeBps: 10}
	res, err := Synthesize(req, pol, curvePricing(), decimal.NewFromInt(20))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.AmountOut.Cmp(big.NewInt(99)) != 0 {
		t.Fatalf("got amount_out %v, want 99 (exact request)", res.AmountOut)
	}
	if res.AmountIn.Cmp(big.NewInt(100)) != 0 {
		t.Fatalf("got amount_in %v, want 100", res.AmountIn)
	}
}

func TestSynthesize_BuyWithDiscreteAsk(t *testing.T) {
	t.Parallel()
	req := types.QuoteRequest{Side: types.BUY, TokenIn: tokenA, TokenOut: tokenB, Amount: big.NewInt(1000)}
	pol := types.MakerPolicy{FeeBps: 10}
	res, err := Synthesize(req, pol, discreteBidAsk(), decimal.NewFromInt(20))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.AmountIn.Sign() <= 0 {
		t.Fatalf("expected positive amount_in, got %v", res.AmountIn)
	}
}

func TestSynthesize_WarnsWhenCurveAndDiscretePricingBothPresent(t *testing.T) {
	t.Parallel()
	pricing := curvePricing()
	bid := decimal.NewFromFloat(0.99)
	pricing.Bid = &bid

	req := types.QuoteRequest{Side: types.SELL, TokenIn: tokenA, TokenOut: tokenB, Amount: big.NewInt(100)}
	pol := types.MakerPolicy{FeeBps: 10}
	res, err := Synthesize(req, pol, pricing, decimal.NewFromInt(20))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !res.UsedCurve {
		t.Fatal("expected curve to win when both curve and discrete pricing are present")
	}
	if len(res.Warnings) != 1 || res.Warnings[0] != "curve and bid/ask both present, preferring curve" {
		t.Fatalf("got warnings %v, want the curve/discrete coexistence warning", res.Warnings)
	}
}

func TestSynthesize_NoWarningWhenOnlyCurvePresent(t *testing.T) {
	t.Parallel()
	req := types.QuoteRequest{Side: types.SELL, TokenIn: tokenA, TokenOut: tokenB, Amount: big.NewInt(100)}
	pol := types.MakerPolicy{FeeBps: 10}
	res, err := Synthesize(req, pol, curvePricing(), decimal.NewFromInt(20))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(res.Warnings) != 0 {
		t.Fatalf("expected no warnings with only a curve present, got %v", res.Warnings)
	}
}

func TestSynthesize_EmptyPricingFails(t *testing.T) {
	t.Parallel()
	req := types.QuoteRequest{Side: types.SELL, TokenIn: tokenA, TokenOut: tokenB, Amount: big.NewInt(100)}
	pol := types.MakerPolicy{FeeBps: 10}
	_, err := Synthesize(req, pol, types.PricingSnapshot{}, decimal.NewFromInt(20))
	if err == nil {
		t.Fatal("expected error for empty pricing with no bid/curve")
	}
}

func TestStrategyHash_UsesPolicyMapWhenPresent(t *testing.T) {
	t.Parallel()
	pol := types.MakerPolicy{
		StrategyMap: map[types.PairKey]string{types.NewPairKey(tokenA, tokenB): "explicit-strategy-1"},
	}
	h1 := strategyHash(tokenA, tokenB, pol)
	h2 := strategyHash(tokenB, tokenA, pol) // symmetric lookup, same map entry
	if h1 != h2 {
		t.Fatalf("expected symmetric pair lookup to yield same hash, got %v vs %v", h1, h2)
	}
}

func TestStrategyHash_DeterministicFallback(t *testing.T) {
	t.Parallel()
	pol := types.MakerPolicy{}
	h1 := strategyHash(tokenA, tokenB, pol)
	h2 := strategyHash(tokenA, tokenB, pol)
	if h1 != h2 {
		t.Fatal("expected deterministic fallback hash")
	}
}
