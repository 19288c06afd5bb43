// Package curve evaluates a pricing snapshot's cumulative depth curve:
// given a requested input size, interpolate the achievable output and
// the realized price impact in basis points.
//
// Depth points are cumulative — the n-th point states "if you sell up
// to AmountInRaw_n, you receive up to AmountOutRaw_n in aggregate, with
// realized impact ImpactBps_n vs mid." Points are ordered by increasing
// AmountInRaw (pkg/types.PricingSnapshot.Validate enforces this before
// the evaluator ever sees the curve).
package curve

import (
	"errors"
	"math/big"

	"github.com/shopspring/decimal"

	"quoteagent/pkg/types"
)

// ErrEmptyCurve means the provider sent a pricing snapshot with no depth
// points — this always resolves to STALE_PRICING at the gate layer
// (spec.md §4.1).
var ErrEmptyCurve = errors.New("curve: depth curve is empty")

// ErrNonMonotoneCurve means the provider violated its own contract
// (strictly increasing amount_in_raw) — always resolves to
// INTERNAL_ERROR, never a policy outcome (spec.md §4.1).
var ErrNonMonotoneCurve = errors.New("curve: depth curve is not strictly increasing")

var origin = types.DepthPoint{
	AmountInRaw:  big.NewInt(0),
	AmountOutRaw: big.NewInt(0),
	ImpactBps:    decimal.Zero,
}

// Evaluate walks curve until the first point whose AmountInRaw >=
// sellAmount, then linearly interpolates output and impact between the
// previous point (or the origin, when none precedes) and the found
// point. If sellAmount exceeds the curve's last point, the last
// cumulative point is returned unchanged (saturation) along with its
// stated impact verbatim — sellAmount is no longer the amount actually
// transacted, so recomputing impact against it would be wrong. Within
// the curve's range, the returned impact is recomputed from the
// interpolated execution price rather than interpolated directly, per
// spec.md §4.1 ("prefer the recomputed value for downstream
// comparisons").
func Evaluate(curve []types.DepthPoint, sellAmount *big.Int, mid decimal.Decimal) (buyAmount *big.Int, impactBps decimal.Decimal, err error) {
	if len(curve) == 0 {
		return nil, decimal.Zero, ErrEmptyCurve
	}

	for i := 1; i < len(curve); i++ {
		if curve[i].AmountInRaw.Cmp(curve[i-1].AmountInRaw) <= 0 {
			return nil, decimal.Zero, ErrNonMonotoneCurve
		}
	}

	prev := origin
	var found *types.DepthPoint
	for i := range curve {
		pt := curve[i]
		if pt.AmountInRaw.Cmp(sellAmount) >= 0 {
			found = &curve[i]
			break
		}
		prev = pt
	}

	if found == nil {
		// sellAmount exceeds the last point: saturate, returning the last
		// point's stated impact unchanged (spec.md §8 boundary behavior) —
		// sellAmount no longer reflects what was actually bought, so
		// recomputing from it would misstate impact.
		last := curve[len(curve)-1]
		buyAmount = new(big.Int).Set(last.AmountOutRaw)
		return buyAmount, last.ImpactBps, nil
	}

	if prev.AmountInRaw.Cmp(found.AmountInRaw) == 0 {
		// Avoid division by zero: return the found point directly.
		buyAmount = new(big.Int).Set(found.AmountOutRaw)
		return buyAmount, recomputeImpact(buyAmount, sellAmount, mid, found.ImpactBps), nil
	}

	// ratio = (sellAmount - prev.in) / (found.in - prev.in)
	num := decimal.NewFromBigInt(new(big.Int).Sub(sellAmount, prev.AmountInRaw), 0)
	den := decimal.NewFromBigInt(new(big.Int).Sub(found.AmountInRaw, prev.AmountInRaw), 0)
	ratio := num.Div(den)

	outDelta := decimal.NewFromBigInt(new(big.Int).Sub(found.AmountOutRaw, prev.AmountOutRaw), 0)
	outInterp := decimal.NewFromBigInt(prev.AmountOutRaw, 0).Add(outDelta.Mul(ratio))
	buyAmount = outInterp.Truncate(0).BigInt()

	return buyAmount, recomputeImpact(buyAmount, sellAmount, mid, linearImpact(prev, *found, ratio)), nil
}

// linearImpact interpolates the curve's own stated impact between prev
// and found, used only as a sanity fallback when mid is zero (recompute
// would divide by zero).
func linearImpact(prev, found types.DepthPoint, ratio decimal.Decimal) decimal.Decimal {
	delta := found.ImpactBps.Sub(prev.ImpactBps)
	return prev.ImpactBps.Add(delta.Mul(ratio))
}

// recomputeImpact computes realized execution price p = buyAmount /
// sellAmount and impactBps = ((p - mid) / mid) * 10_000, per spec.md
// §4.1. Falls back to the curve's own interpolated value when mid is
// zero (cannot divide) so callers never see a spurious zero impact.
func recomputeImpact(buyAmount, sellAmount *big.Int, mid, fallback decimal.Decimal) decimal.Decimal {
	if mid.IsZero() || sellAmount.Sign() == 0 {
		return fallback
	}
	execPrice := decimal.NewFromBigInt(buyAmount, 0).Div(decimal.NewFromBigInt(sellAmount, 0))
	return execPrice.Sub(mid).Div(mid).Mul(decimal.NewFromInt(10_000))
}
