// Package pipeline orchestrates the end-to-end quote request flow
// (spec.md §4.5): idempotency lookup, daily-volume rollover, policy
// gate, synthesis, feasibility gate, commit, and the explainability
// payload returned alongside the intent.
package pipeline

import (
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/crypto"

	"quoteagent/internal/clock"
	"quoteagent/internal/curve"
	"quoteagent/internal/feasibility"
	"quoteagent/internal/policy"
	"quoteagent/internal/state"
	"quoteagent/internal/synth"
	"quoteagent/pkg/types"
)

// Explainability carries the full gate trace and any warnings for one
// request (spec.md §4.5 step 7).
type Explainability struct {
	PolicyTrace      []string
	FeasibilityTrace []string
	Warnings         []string
	PricingSource    string // "inline", "fetched", or "cached"
}

// Pipeline wires the gates, synthesizer, and state store together. It
// holds no request-scoped state of its own.
type Pipeline struct {
	chains             policy.SupportedChains
	store              *state.Store
	clock              clock.Clock
	logger             *slog.Logger
	idempotencyTTLCeil time.Duration
}

// New builds a Pipeline. logger is the component-scoped logger (the
// caller is expected to pass logger.With("component", "pipeline")),
// matching the teacher's child-logger-per-package convention.
// idempotencyTTLCeil caps the TTL used for every cached intent
// regardless of what an individual maker's policy requests (config's
// state.idempotency_ttl); zero means no ceiling.
func New(chains policy.SupportedChains, store *state.Store, c clock.Clock, logger *slog.Logger, idempotencyTTLCeil time.Duration) *Pipeline {
	return &Pipeline{chains: chains, store: store, clock: c, logger: logger, idempotencyTTLCeil: idempotencyTTLCeil}
}

// Run executes the full pipeline for one request and returns the
// resulting intent plus its explainability trace. It has no error
// result: a business-outcome rejection is a rejected intent, and a
// malformed request, policy, or pricing snapshot (which the HTTP
// boundary should have already rejected) is a rejected intent with
// INTERNAL_ERROR (defense in depth).
func (p *Pipeline) Run(req types.QuoteRequest, pol types.MakerPolicy, pricing types.PricingSnapshot, chain types.ChainSnapshot) (types.QuoteIntent, Explainability) {
	if err := req.Validate(); err != nil {
		return types.Rejected(types.ReasonInternalError, err.Error()), Explainability{}
	}
	if err := pol.Validate(); err != nil {
		return types.Rejected(types.ReasonInternalError, err.Error()), Explainability{}
	}
	if err := pricing.Validate(); err != nil {
		return types.Rejected(types.ReasonInternalError, err.Error()), Explainability{}
	}

	// Step 1: idempotency key. A request that omits one gets a
	// deterministic key derived from its own fields (spec.md §3), so
	// retries of the same logical request still coalesce and replay
	// even without a caller-supplied key.
	key := req.IdempotencyKey
	if key == "" {
		key = deriveIdempotencyKey(req)
	}

	// Steps 2-6 run inside the closure passed to GetOrSynthesize so that
	// concurrent requests sharing key coalesce onto a single execution
	// (spec.md §5's "never both synthesize" guarantee) instead of each
	// racing GetIdempotent/PutIdempotent independently. ran records
	// whether this call was the one that actually executed the closure,
	// so a coalesced follower (like a plain cache hit) reports a
	// degenerate trace rather than one it never produced.
	var exp Explainability
	ran := false
	intent, _ := p.store.GetOrSynthesize(key, func() (types.QuoteIntent, time.Duration, error) {
		ran = true
		result, explain, ttl := p.synthesize(req, pol, pricing, chain, key)
		exp = explain
		return result, ttl, nil
	})
	if !ran {
		return intent, Explainability{
			PricingSource:    "cached",
			FeasibilityTrace: []string{"IDEMPOTENCY_HIT"},
		}
	}
	return intent, exp
}

// synthesize runs steps 2-6 of the pipeline for one request: daily-
// volume read, the two-phase policy gate, synthesis, the feasibility
// gate, and (only on acceptance) the state commit. It returns the TTL
// the caller should cache the result under — the policy's TTL, capped at
// the configured ceiling, for an accepted intent; zero for a rejection, so a rejected outcome is
// visible to concurrent coalesced callers but never durably cached
// (spec.md: rejections never touch committed state).
func (p *Pipeline) synthesize(req types.QuoteRequest, pol types.MakerPolicy, pricing types.PricingSnapshot, chain types.ChainSnapshot, key string) (types.QuoteIntent, Explainability, time.Duration) {
	// Step 2: daily-volume rollover happens transparently inside every
	// Store.DailyVolume/AddDailyVolume call; read the current counter
	// here so the policy gate sees it post-rollover.
	dailyVolume := p.store.DailyVolume(pol.Maker.Hex(), req.TokenOut.Hex())

	// Step 3: policy gate, pre-synthesis half (everything but size/cap,
	// which need the synthesized amount — see the ordering note in
	// DESIGN.md's internal/policy entry).
	preDecision := policy.Evaluate(req, pol, pricing, p.chains, dailyVolume, nil, nil)
	if !preDecision.Passed {
		p.logger.Info("quote rejected at policy gate", "reason", preDecision.Reason, "maker", pol.Maker.Hex())
		return types.Rejected(preDecision.Reason, "policy gate: "+string(preDecision.Reason)), Explainability{PolicyTrace: preDecision.Trace}, 0
	}

	// Step 4: synthesize.
	res, err := synth.Synthesize(req, pol, pricing, preDecision.SpreadBps)
	if err != nil {
		p.logger.Warn("synthesis failed", "error", err, "maker", pol.Maker.Hex())
		reason := types.ReasonStalePricing
		if errors.Is(err, curve.ErrNonMonotoneCurve) {
			reason = types.ReasonInternalError
		}
		return types.Rejected(reason, err.Error()), Explainability{PolicyTrace: preDecision.Trace}, 0
	}

	warnings := append([]string{}, preDecision.Warnings...)
	warnings = append(warnings, res.Warnings...)

	// Policy gate, post-synthesis half: size and daily-cap checks now
	// that both legs are known (spec.md §4.2 step 5 checks amount_in and
	// amount_out).
	postDecision := policy.Evaluate(req, pol, pricing, p.chains, dailyVolume, res.AmountIn, res.AmountOut)
	trace := append(append([]string{}, preDecision.Trace...), postDecision.Trace...)
	if !postDecision.Passed {
		return types.Rejected(postDecision.Reason, "policy gate: "+string(postDecision.Reason)), Explainability{PolicyTrace: trace}, 0
	}

	if res.UsedCurve {
		ok, line := policy.CheckImpact(pol, res.ImpactBps)
		trace = append(trace, line)
		if !ok {
			return types.Rejected(types.ReasonExcessiveImpact, "impact bps exceeds policy ceiling"), Explainability{PolicyTrace: trace}, 0
		}
	}

	// Step 5: feasibility gate.
	feasDecision := feasibility.Evaluate(chain, res.AmountOut)
	if !feasDecision.Passed {
		p.logger.Info("quote rejected at feasibility gate", "reason", feasDecision.Reason, "maker", pol.Maker.Hex())
		return types.Rejected(feasDecision.Reason, "feasibility gate: "+string(feasDecision.Reason)), Explainability{PolicyTrace: trace, FeasibilityTrace: feasDecision.Trace}, 0
	}

	budgetHeadroom := new(big.Int).Sub(chain.TokenOutBudget, res.AmountOut)
	ttlSec := pol.DefaultTTLSec
	expiry := p.clock.Now().Unix() + ttlSec
	nonce := p.store.NextNonce(pol.Maker.Hex())

	intent := types.QuoteIntent{
		Maker:             pol.Maker,
		TokenIn:           req.TokenIn,
		TokenOut:          req.TokenOut,
		AmountIn:          res.AmountIn,
		AmountOut:         res.AmountOut,
		StrategyHash:      res.StrategyHash,
		Nonce:             nonce,
		Expiry:            expiry,
		MinOutNet:         res.MinOutNet,
		TTLSec:            ttlSec,
		IdempotencyKey:    key,
		RealizedSpreadBps: preDecision.SpreadBps,
		PriceUsed:         res.PriceUsed,
		Rationale:         synth.Rationale(req, res, preDecision.SpreadBps, budgetHeadroom, ttlSec),
	}

	// Step 6: commit — daily volume. The idempotency cache write itself
	// happens in the caller (GetOrSynthesize.PutIdempotent), using the
	// ttl this function returns; nonce was already allocated above (its
	// own atomic step).
	p.store.AddDailyVolume(pol.Maker.Hex(), req.TokenOut.Hex(), res.AmountOut)

	if ratio := budgetRatio(budgetHeadroom, chain.TokenOutBudget); ratio < 0.1 {
		warnings = append(warnings, fmt.Sprintf("budget running low: %.1f%% headroom remaining", ratio*100))
	}

	ttl := time.Duration(ttlSec) * time.Second
	if p.idempotencyTTLCeil > 0 && ttl > p.idempotencyTTLCeil {
		ttl = p.idempotencyTTLCeil
	}

	return intent, Explainability{
		PolicyTrace:      trace,
		FeasibilityTrace: feasDecision.Trace,
		Warnings:         warnings,
		PricingSource:    "inline",
	}, ttl
}

// deriveIdempotencyKey computes a deterministic key for a request that
// omitted one (spec.md §3), from the fields that define "the same
// logical request." Two otherwise-identical keyless retries collide
// onto the same key and so share one synthesis and one cached result,
// the same protection an explicit key gets.
func deriveIdempotencyKey(req types.QuoteRequest) string {
	parts := strings.Join([]string{
		string(req.ChainID),
		string(req.Side),
		req.TokenIn.Hex(),
		req.TokenOut.Hex(),
		req.Amount.String(),
		req.Taker.Hex(),
		req.EffectiveRecipient().Hex(),
	}, "|")
	return "derived:" + crypto.Keccak256Hash([]byte(parts)).Hex()
}

// budgetRatio returns headroom/budget as a float64, used only to decide
// whether to emit a "budget running low" warning — never for an
// amount-bearing computation, so a float approximation is acceptable
// here (spec.md §9 reserves big.Int/decimal precision for amounts, not
// for this diagnostic ratio).
func budgetRatio(headroom, budget *big.Int) float64 {
	if budget == nil || budget.Sign() == 0 {
		return 0
	}
	h := new(big.Float).SetInt(headroom)
	b := new(big.Float).SetInt(budget)
	ratio, _ := new(big.Float).Quo(h, b).Float64()
	return ratio
}
