// Package feasibility implements the post-synthesis admission gate
// (spec.md §4.3): checks against the on-chain chain snapshot once a
// prospective amount-out is known.
package feasibility

import (
	"math/big"

	"quoteagent/pkg/types"
)

// Decision is the gate's PASS/FAIL outcome, carrying a diagnostic trace
// line per predicate so operators can see why a quote died.
type Decision struct {
	Passed bool
	Reason types.RejectionReason
	Trace  []string
}

// Evaluate runs the ordered predicate chain in spec.md §4.3 against the
// chain snapshot and the synthesizer's prospective amountOut.
func Evaluate(chain types.ChainSnapshot, amountOut *big.Int) Decision {
	trace := make([]string, 0, 4)

	if !chain.Active {
		trace = append(trace, "strategy_active: FAIL")
		return Decision{Reason: types.ReasonStrategyInactive, Trace: trace}
	}
	trace = append(trace, "strategy_active: PASS")

	if chain.Docked {
		trace = append(trace, "strategy_not_docked: FAIL")
		return Decision{Reason: types.ReasonStrategyDocked, Trace: trace}
	}
	trace = append(trace, "strategy_not_docked: PASS")

	if chain.TokenOutBudget == nil || chain.TokenOutBudget.Cmp(amountOut) < 0 {
		trace = append(trace, "budget_sufficient: FAIL")
		return Decision{Reason: types.ReasonInsufficientBudget, Trace: trace}
	}
	trace = append(trace, "budget_sufficient: PASS")

	if chain.Allowance == nil || chain.Allowance.Cmp(amountOut) < 0 {
		trace = append(trace, "allowance_sufficient: FAIL")
		return Decision{Reason: types.ReasonInsufficientAllowance, Trace: trace}
	}
	trace = append(trace, "allowance_sufficient: PASS")

	return Decision{Passed: true, Trace: trace}
}
