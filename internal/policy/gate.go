// Package policy implements the admission gate (spec.md §4.2): an
// ordered, short-circuiting predicate chain run against a request, a
// maker's policy, and a pricing snapshot. The pipeline runs it before
// synthesis and again after it for the size/cap checks, then applies
// CheckImpact. The gate is a pure function — it never touches the
// state store.
package policy

import (
	"math/big"

	"github.com/shopspring/decimal"

	"quoteagent/pkg/types"
)

// lowConfidenceThreshold and lowConfidenceWidening implement spec.md
// §4.2's spread-selection rule.
var (
	lowConfidenceThreshold = decimal.NewFromFloat(0.8)
	lowConfidenceWidening  = decimal.NewFromFloat(1.5)
)

// Decision is the gate's PASS/FAIL outcome. A failed Decision always
// carries a non-empty Reason; a passed Decision carries the chosen
// SpreadBps and any non-fatal Warnings.
type Decision struct {
	Passed    bool
	Reason    types.RejectionReason
	SpreadBps decimal.Decimal
	Trace     []string
	Warnings  []string
}

// SupportedChains reports whether a chain id is configured for this
// deployment. Kept as a small interface rather than a bare []string
// parameter so callers (e.g. a config-backed set) can share one
// instance across requests.
type SupportedChains interface {
	Supports(id types.ChainID) bool
}

// ChainSet is the simplest SupportedChains implementation: a fixed set
// built once at startup from config.
type ChainSet map[types.ChainID]bool

// Supports reports set membership.
func (s ChainSet) Supports(id types.ChainID) bool { return s[id] }

// NewChainSet builds a ChainSet from a list of chain id strings.
func NewChainSet(ids []string) ChainSet {
	s := make(ChainSet, len(ids))
	for _, id := range ids {
		s[types.ChainID(id)] = true
	}
	return s
}

// Evaluate runs the ordered predicate chain in spec.md §4.2. dailyVolume
// is the current committed volume for (policy.Maker, req.TokenOut)
// before this request; synthAmountIn/synthAmountOut, when non-nil, are
// the prospective amounts on both legs after synthesis, used by the
// max-trade-size (both legs, spec.md §4.2 step 5) and daily-cap
// (token-out only) checks (nil means those two checks are deferred —
// see pipeline, which calls Evaluate twice: once pre-synthesis for
// everything up through pricing freshness, and once post-synthesis for
// size/cap, matching the ordering note in DESIGN.md's internal/policy
// entry).
func Evaluate(req types.QuoteRequest, pol types.MakerPolicy, pricing types.PricingSnapshot, chains SupportedChains, dailyVolume *big.Int, synthAmountIn *big.Int, synthAmountOut *big.Int) Decision {
	trace := make([]string, 0, 8)

	if !chains.Supports(req.ChainID) {
		trace = append(trace, "chain_supported: FAIL")
		return Decision{Reason: types.ReasonInvalidChain, Trace: trace}
	}
	trace = append(trace, "chain_supported: PASS")

	if pol.Paused {
		trace = append(trace, "policy_not_paused: FAIL")
		return Decision{Reason: types.ReasonMakerPaused, Trace: trace}
	}
	trace = append(trace, "policy_not_paused: PASS")

	if !pol.AllowsPair(req.TokenIn, req.TokenOut) {
		trace = append(trace, "pair_allowed: FAIL")
		return Decision{Reason: types.ReasonPairNotAllowed, Trace: trace}
	}
	trace = append(trace, "pair_allowed: PASS")

	if pricing.Stale || pricing.Confidence.LessThan(pol.MinConfidence) {
		trace = append(trace, "pricing_fresh: FAIL")
		return Decision{Reason: types.ReasonStalePricing, Trace: trace}
	}
	trace = append(trace, "pricing_fresh: PASS")

	var warnings []string
	spread := clampSpread(pricing.MarketSpreadBps, pol.Spread.MinBps, pol.Spread.MaxBps)
	if pricing.Confidence.LessThan(lowConfidenceThreshold) {
		spread = spread.Mul(lowConfidenceWidening)
		warnings = append(warnings, "low confidence pricing: spread widened 1.5x")
	}

	if synthAmountOut != nil {
		if pol.MaxTradeSize != nil && (synthAmountIn.Cmp(pol.MaxTradeSize) > 0 || synthAmountOut.Cmp(pol.MaxTradeSize) > 0) {
			trace = append(trace, "max_trade_size: FAIL")
			return Decision{Reason: types.ReasonExceedsMaxTradeSize, Trace: trace}
		}
		trace = append(trace, "max_trade_size: PASS")

		if cap, ok := pol.DailyCaps[req.TokenOut]; ok && cap != nil {
			projected := new(big.Int).Add(dailyVolume, synthAmountOut)
			if projected.Cmp(cap) > 0 {
				trace = append(trace, "daily_cap: FAIL")
				return Decision{Reason: types.ReasonExceedsDailyCap, Trace: trace}
			}
		}
		trace = append(trace, "daily_cap: PASS")
	}

	return Decision{Passed: true, SpreadBps: spread, Trace: trace, Warnings: warnings}
}

// clampSpread bounds bps within [min, max].
func clampSpread(bps decimal.Decimal, minBps, maxBps int) decimal.Decimal {
	lo := decimal.NewFromInt(int64(minBps))
	hi := decimal.NewFromInt(int64(maxBps))
	if bps.LessThan(lo) {
		return lo
	}
	if bps.GreaterThan(hi) {
		return hi
	}
	return bps
}

// CheckImpact is the supplemented EXCESSIVE_IMPACT predicate
// (SPEC_FULL.md §3/§4.2). It runs after synthesis, once realized impact
// is known, since MaxImpactBps has no meaning before a curve evaluation
// has happened.
func CheckImpact(pol types.MakerPolicy, impactBps decimal.Decimal) (ok bool, trace string) {
	if pol.MaxImpactBps <= 0 {
		return true, "max_impact: PASS (no ceiling configured)"
	}
	ceiling := decimal.NewFromInt(pol.MaxImpactBps)
	if impactBps.Abs().GreaterThan(ceiling) {
		return false, "max_impact: FAIL"
	}
	return true, "max_impact: PASS"
}
