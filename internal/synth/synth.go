// Package synth synthesizes a quote intent from a validated request,
// policy, pricing snapshot, and chosen spread (spec.md §4.4). The
// synthesizer never raises: every failure mode is represented by the
// caller inspecting its returned error and reducing it to a rejected
// intent upstream.
package synth

import (
	"encoding/json"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/shopspring/decimal"

	"quoteagent/internal/curve"
	"quoteagent/pkg/types"
)

var (
	bpsScale = decimal.NewFromInt(10_000)
)

// Result bundles the synthesized amounts and metadata needed by the
// feasibility gate and the final intent builder. ImpactBps is only
// meaningful when a depth curve was used; it is the zero value
// otherwise.
type Result struct {
	AmountIn     *big.Int
	AmountOut    *big.Int
	MinOutNet    *big.Int
	ImpactBps    decimal.Decimal
	UsedCurve    bool
	StrategyHash common.Hash
	PriceUsed    decimal.Decimal
	Warnings     []string
}

// Synthesize computes the side-aware amount pair, min-out-net, and
// strategy hash for req, under pol and pricing. spreadBps — the spread
// already chosen (clamped, possibly widened) by the policy gate — is
// applied only on the discrete bid/ask path; depth-curve amounts are
// the evaluator's output with no spread applied.
func Synthesize(req types.QuoteRequest, pol types.MakerPolicy, pricing types.PricingSnapshot, spreadBps decimal.Decimal) (Result, error) {
	spreadFrac := spreadBpsToFraction(spreadBps)

	var res Result
	var err error
	switch req.Side {
	case types.SELL:
		res, err = synthesizeSell(req, pricing, spreadFrac)
	case types.BUY:
		res, err = synthesizeBuy(req, pricing, spreadFrac)
	default:
		return Result{}, fmt.Errorf("synth: unsupported side %q", req.Side)
	}
	if err != nil {
		return Result{}, err
	}

	feeBps := pol.EffectiveFeeBps()
	feeFrac := decimal.NewFromInt(feeBps).Div(bpsScale)
	netOut := decimal.NewFromBigInt(res.AmountOut, 0).Mul(decimal.NewFromInt(1).Sub(feeFrac))
	res.MinOutNet = netOut.Truncate(0).BigInt()

	res.StrategyHash = strategyHash(req.TokenIn, req.TokenOut, pol)

	return res, nil
}

func spreadBpsToFraction(bps decimal.Decimal) decimal.Decimal {
	return bps.Div(bpsScale)
}

// curveAndDiscreteWarning flags a provider contract ambiguity: a
// snapshot should supply either a depth curve or discrete bid/ask, not
// both (SPEC_FULL.md §9). When both are present the curve wins, but the
// caller is told rather than left to guess why bid/ask was ignored.
func curveAndDiscreteWarning(pricing types.PricingSnapshot) []string {
	if pricing.Bid != nil || pricing.Ask != nil {
		return []string{"curve and bid/ask both present, preferring curve"}
	}
	return nil
}

// synthesizeSell handles SELL: amount_in is the request amount exactly;
// amount_out is derived either from a discrete bid or the depth curve.
func synthesizeSell(req types.QuoteRequest, pricing types.PricingSnapshot, spreadFrac decimal.Decimal) (Result, error) {
	amountIn := new(big.Int).Set(req.Amount)

	if len(pricing.DepthCurve) > 0 {
		buyAmount, impactBps, err := curve.Evaluate(pricing.DepthCurve, amountIn, pricing.MidPrice)
		if err != nil {
			return Result{}, err
		}
		return Result{
			AmountIn:  amountIn,
			AmountOut: buyAmount,
			ImpactBps: impactBps,
			UsedCurve: true,
			PriceUsed: pricing.MidPrice,
			Warnings:  curveAndDiscreteWarning(pricing),
		}, nil
	}

	if pricing.Bid == nil {
		return Result{}, curve.ErrEmptyCurve
	}
	// amount_out = amount_in / bid * (1 - spread)
	out := decimal.NewFromBigInt(amountIn, 0).Div(*pricing.Bid).Mul(decimal.NewFromInt(1).Sub(spreadFrac))
	return Result{
		AmountIn:  amountIn,
		AmountOut: out.Truncate(0).BigInt(),
		PriceUsed: *pricing.Bid,
	}, nil
}

// synthesizeBuy handles BUY: amount_out is the request amount exactly;
// amount_in is derived either from a discrete ask or a curve inversion
// via probing.
func synthesizeBuy(req types.QuoteRequest, pricing types.PricingSnapshot, spreadFrac decimal.Decimal) (Result, error) {
	amountOut := new(big.Int).Set(req.Amount)

	if len(pricing.DepthCurve) > 0 {
		// Invert the curve by probing: walk cumulative points to find
		// the input that yields at least amountOut, then interpolate
		// within that bracket using the same linear assumption the
		// evaluator uses in the forward direction.
		amountIn, impactBps, err := invertCurve(pricing.DepthCurve, amountOut, pricing.MidPrice)
		if err != nil {
			return Result{}, err
		}
		return Result{
			AmountIn:  amountIn,
			AmountOut: amountOut,
			ImpactBps: impactBps,
			UsedCurve: true,
			PriceUsed: pricing.MidPrice,
			Warnings:  curveAndDiscreteWarning(pricing),
		}, nil
	}

	if pricing.Ask == nil {
		return Result{}, curve.ErrEmptyCurve
	}
	// amount_in = amount_out * ask * (1 + spread)
	in := decimal.NewFromBigInt(amountOut, 0).Mul(*pricing.Ask).Mul(decimal.NewFromInt(1).Add(spreadFrac))
	return Result{
		AmountIn:  in.Truncate(0).BigInt(),
		AmountOut: amountOut,
		PriceUsed: *pricing.Ask,
	}, nil
}

// invertCurve finds the smallest cumulative amount-in whose interpolated
// amount-out is >= target, by walking the curve's own (amount_in,
// amount_out) pairs and linearly interpolating within the bracket — the
// same algorithm as curve.Evaluate, run against amount_out instead of
// amount_in.
func invertCurve(points []types.DepthPoint, target *big.Int, mid decimal.Decimal) (*big.Int, decimal.Decimal, error) {
	prevIn, prevOut := big.NewInt(0), big.NewInt(0)
	for i, pt := range points {
		if i > 0 && pt.AmountInRaw.Cmp(points[i-1].AmountInRaw) <= 0 {
			return nil, decimal.Zero, curve.ErrNonMonotoneCurve
		}
		if pt.AmountOutRaw.Cmp(target) >= 0 {
			if prevOut.Cmp(pt.AmountOutRaw) == 0 {
				return new(big.Int).Set(pt.AmountInRaw), pt.ImpactBps, nil
			}
			num := decimal.NewFromBigInt(new(big.Int).Sub(target, prevOut), 0)
			den := decimal.NewFromBigInt(new(big.Int).Sub(pt.AmountOutRaw, prevOut), 0)
			ratio := num.Div(den)
			inDelta := decimal.NewFromBigInt(new(big.Int).Sub(pt.AmountInRaw, prevIn), 0)
			inInterp := decimal.NewFromBigInt(prevIn, 0).Add(inDelta.Mul(ratio))
			amountIn := inInterp.Truncate(0).BigInt()
			impact := pt.ImpactBps
			if !mid.IsZero() && amountIn.Sign() != 0 {
				execPrice := decimal.NewFromBigInt(target, 0).Div(decimal.NewFromBigInt(amountIn, 0))
				impact = execPrice.Sub(mid).Div(mid).Mul(bpsScale)
			}
			return amountIn, impact, nil
		}
		prevIn, prevOut = pt.AmountInRaw, pt.AmountOutRaw
	}
	// target exceeds the curve's last cumulative output: saturate at
	// the last point, same as the forward evaluator does.
	last := points[len(points)-1]
	return new(big.Int).Set(last.AmountInRaw), last.ImpactBps, nil
}

// strategyHash derives the strategy identifier for the pair: the
// policy's explicit StrategyMap entry when present, otherwise a
// deterministic digest of the pair and the fallback descriptor. This is
// a documented placeholder for whatever scheme the downstream
// signer/contract actually expects (SPEC_FULL.md §9).
func strategyHash(tokenIn, tokenOut common.Address, pol types.MakerPolicy) common.Hash {
	if id, ok := pol.StrategyFor(tokenIn, tokenOut); ok {
		return crypto.Keccak256Hash([]byte(id))
	}
	pairKey := types.NewPairKey(tokenIn, tokenOut)
	descriptor, _ := json.Marshal(struct {
		A string `json:"a"`
		B string `json:"b"`
	}{A: pairKey.A.Hex(), B: pairKey.B.Hex()})
	return crypto.Keccak256Hash(descriptor)
}

// Rationale builds the human-readable summary line spec.md §4.4 calls
// for.
func Rationale(req types.QuoteRequest, res Result, spreadBps decimal.Decimal, budgetHeadroom *big.Int, ttlSec int64) string {
	return fmt.Sprintf(
		"%s %s->%s: spread=%sbps price=%s in=%s out=%s headroom=%s ttl=%ds",
		req.Side, req.TokenIn.Hex(), req.TokenOut.Hex(),
		spreadBps.String(), res.PriceUsed.String(),
		res.AmountIn.String(), res.AmountOut.String(),
		budgetHeadroomString(budgetHeadroom), ttlSec,
	)
}

func budgetHeadroomString(b *big.Int) string {
	if b == nil {
		return "unknown"
	}
	return b.String()
}
