// Package types defines the shared data model for the Strategy Agent —
// the quote synthesis and admission-control engine for an on-chain RFQ
// market-making venue.
//
// This package is the common vocabulary for the agent: request/response
// records, policy and snapshot contracts, and the closed set of
// rejection reasons. It has no dependencies on internal packages, so it
// can be imported by any layer (gates, synthesizer, state store, HTTP
// boundary) without import cycles.
package types

import (
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
)

// ————————————————————————————————————————————————————————————————————————
// Core enums
// ————————————————————————————————————————————————————————————————————————

// Side represents the direction of a taker's request: BUY or SELL.
type Side string

const (
	BUY  Side = "BUY"
	SELL Side = "SELL"
)

// ChainID identifies a chain namespace. Kept as a string alias rather
// than a numeric EVM chain id so non-EVM chain identifiers remain
// representable — the spec's chain namespace is not restricted to EVM.
type ChainID string

// RejectionReason is the closed set of canonical rejection codes. Any
// value outside this set is a programmer error, not a valid business
// outcome.
type RejectionReason string

const (
	ReasonNone                  RejectionReason = ""
	ReasonMakerPaused           RejectionReason = "MAKER_PAUSED"
	ReasonInsufficientBudget    RejectionReason = "INSUFFICIENT_BUDGET"
	ReasonStalePricing          RejectionReason = "STALE_PRICING"
	ReasonPairNotAllowed        RejectionReason = "PAIR_NOT_ALLOWED"
	ReasonExceedsMaxTradeSize   RejectionReason = "EXCEEDS_MAX_TRADE_SIZE"
	ReasonExceedsDailyCap       RejectionReason = "EXCEEDS_DAILY_CAP"
	ReasonStrategyInactive      RejectionReason = "STRATEGY_INACTIVE"
	ReasonStrategyDocked        RejectionReason = "STRATEGY_DOCKED"
	ReasonInsufficientAllowance RejectionReason = "INSUFFICIENT_ALLOWANCE"
	ReasonInvalidChain          RejectionReason = "INVALID_CHAIN"
	ReasonInvalidToken          RejectionReason = "INVALID_TOKEN"
	ReasonNonceExhausted        RejectionReason = "NONCE_EXHAUSTED"
	ReasonInternalError         RejectionReason = "INTERNAL_ERROR"
	// ReasonExcessiveImpact is a supplemented reason (SPEC_FULL.md §9,
	// REDESIGN FLAG): the original params carry maxImpactBps but the
	// distilled spec never names a reason for breaching it.
	ReasonExcessiveImpact RejectionReason = "EXCESSIVE_IMPACT"
)

// ————————————————————————————————————————————————————————————————————————
// Request
// ————————————————————————————————————————————————————————————————————————

// QuoteRequest is a taker's ask: "at what terms will you trade X for Y?"
type QuoteRequest struct {
	ChainID        ChainID
	Side           Side
	TokenIn        common.Address
	TokenOut       common.Address
	Amount         *big.Int // base units; SELL = exact input, BUY = exact output
	Taker          common.Address
	Recipient      common.Address // zero address means "defaults to Taker"
	IdempotencyKey string         // optional; pipeline derives one when empty
}

// EffectiveRecipient returns Recipient if set, else Taker.
func (r QuoteRequest) EffectiveRecipient() common.Address {
	if (r.Recipient == common.Address{}) {
		return r.Taker
	}
	return r.Recipient
}

// Validate checks the request's own invariants (amount > 0, tokenIn !=
// tokenOut). It does not check policy or chain support — those are the
// gates' job.
func (r QuoteRequest) Validate() error {
	if r.Amount == nil || r.Amount.Sign() <= 0 {
		return errInvalidRequest("amount must be > 0")
	}
	if r.TokenIn == r.TokenOut {
		return errInvalidRequest("token_in must differ from token_out")
	}
	if r.Side != BUY && r.Side != SELL {
		return errInvalidRequest("side must be BUY or SELL")
	}
	return nil
}

type invalidRequestError string

func (e invalidRequestError) Error() string { return string(e) }

func errInvalidRequest(msg string) error { return invalidRequestError(msg) }

// ————————————————————————————————————————————————————————————————————————
// Maker policy
// ————————————————————————————————————————————————————————————————————————

// PairKey is an unordered token-pair identifier (membership is symmetric:
// A/B allows B/A). Callers should build it with NewPairKey rather than
// comparing (TokenIn, TokenOut) tuples directly.
type PairKey struct {
	A common.Address
	B common.Address
}

// NewPairKey returns a canonical, order-independent key for a pair by
// sorting the two addresses lexicographically.
func NewPairKey(x, y common.Address) PairKey {
	if x.Hex() <= y.Hex() {
		return PairKey{A: x, B: y}
	}
	return PairKey{A: y, B: x}
}

// SpreadBand is the maker's allowed spread range, in basis points.
type SpreadBand struct {
	MinBps int
	MaxBps int
}

// MakerPolicy is the maker's current rules, authored out-of-band by the
// (out-of-scope) conversational Maker Agent. The core reads a policy
// snapshot per request and never mutates it.
type MakerPolicy struct {
	Maker         common.Address
	AllowedPairs  map[PairKey]bool
	MaxTradeSize  *big.Int // nil means unbounded; base units, applies to both legs
	DailyCaps     map[common.Address]*big.Int
	Paused        bool
	Spread        SpreadBand
	DefaultTTLSec int64
	StrategyMap   map[PairKey]string
	FeeBps        int64 // default 10 when zero-valued policy is used; callers should set explicitly
	MinConfidence decimal.Decimal
	MaxImpactBps  int64 // 0 means no ceiling enforced
}

// AllowsPair reports whether the unordered pair is in the allowed set.
func (p MakerPolicy) AllowsPair(tokenIn, tokenOut common.Address) bool {
	if len(p.AllowedPairs) == 0 {
		return false
	}
	return p.AllowedPairs[NewPairKey(tokenIn, tokenOut)]
}

// StrategyFor returns the configured strategy id for a pair and whether
// one was explicitly configured (vs. needing the deterministic default).
func (p MakerPolicy) StrategyFor(tokenIn, tokenOut common.Address) (string, bool) {
	if p.StrategyMap == nil {
		return "", false
	}
	id, ok := p.StrategyMap[NewPairKey(tokenIn, tokenOut)]
	return id, ok
}

// Validate checks the policy's own invariants.
func (p MakerPolicy) Validate() error {
	if p.Spread.MinBps > p.Spread.MaxBps {
		return errInvalidRequest("policy spread_band.min_bps must be <= max_bps")
	}
	if p.DefaultTTLSec <= 0 {
		return errInvalidRequest("policy default_ttl_sec must be > 0")
	}
	return nil
}

// EffectiveFeeBps returns the configured fee, defaulting to 10 bps.
func (p MakerPolicy) EffectiveFeeBps() int64 {
	if p.FeeBps == 0 {
		return 10
	}
	return p.FeeBps
}

// ————————————————————————————————————————————————————————————————————————
// Pricing snapshot
// ————————————————————————————————————————————————————————————————————————

// Provenance names the venue (and optional fee tier) a depth point's
// liquidity was sourced from. Carried through for explainability/audit;
// never consulted by gate logic.
type Provenance struct {
	Venue   string
	FeeTier *int64
}

// DepthPoint is one cumulative sample on the pricing snapshot's depth
// curve: "selling up to AmountInRaw yields up to AmountOutRaw, in
// aggregate, with realized impact ImpactBps vs mid."
type DepthPoint struct {
	AmountInRaw  *big.Int
	AmountOutRaw *big.Int
	ImpactBps    decimal.Decimal
	Provenance   []Provenance
}

// PricingSnapshot is the off-chain depth curve at a point in time, owned
// by the caller (the external price-engine collaborator). The evaluator
// never mutates it and no component retains it beyond request scope.
type PricingSnapshot struct {
	MidPrice        decimal.Decimal
	Bid             *decimal.Decimal // set only for discrete-amount (non-curve) pricing
	Ask             *decimal.Decimal
	MarketSpreadBps decimal.Decimal
	DepthCurve      []DepthPoint // strictly increasing in AmountInRaw; empty for discrete bid/ask pricing
	SourceTimestamp time.Time
	Stale           bool
	Confidence      decimal.Decimal // in [0, 1]
	SourcesUsed     []string
}

// Validate checks the snapshot's own structural invariants. An empty
// DepthCurve is valid (discrete bid/ask pricing); curve.Evaluate is the
// authority on what happens when a curve-based quote is attempted
// against one. This only catches malformed provider data that would
// otherwise panic or silently misbehave downstream.
func (p PricingSnapshot) Validate() error {
	if p.Confidence.LessThan(decimal.Zero) || p.Confidence.GreaterThan(decimal.NewFromInt(1)) {
		return errInvalidRequest("confidence must be in [0, 1]")
	}
	prev := big.NewInt(0)
	for i, pt := range p.DepthCurve {
		if pt.AmountInRaw == nil || pt.AmountOutRaw == nil {
			return errInvalidRequest("depth point missing amounts")
		}
		if i > 0 && pt.AmountInRaw.Cmp(prev) <= 0 {
			return errInvalidRequest("depth curve is not strictly increasing in amount_in_raw")
		}
		prev = pt.AmountInRaw
	}
	return nil
}

// ————————————————————————————————————————————————————————————————————————
// Chain snapshot
// ————————————————————————————————————————————————————————————————————————

// ChainSnapshot is the on-chain state relevant to one prospective trade,
// owned by the caller (the external chain-state collaborator).
type ChainSnapshot struct {
	ChainID        ChainID
	StrategyID     string
	Active         bool // false when the strategy holds zero tokens
	Docked         bool // true when administratively disabled
	TokenOutBudget *big.Int
	Allowance      *big.Int // maker -> venue allowance for token-out
	LastUpdated    time.Time
}

// Feasible reports the derived invariant: active and not docked.
func (c ChainSnapshot) Feasible() bool {
	return c.Active && !c.Docked
}

// ————————————————————————————————————————————————————————————————————————
// Quote intent
// ————————————————————————————————————————————————————————————————————————

// QuoteIntent is the deterministic, signable output of the pipeline.
type QuoteIntent struct {
	Maker             common.Address
	TokenIn           common.Address
	TokenOut          common.Address
	AmountIn          *big.Int
	AmountOut         *big.Int
	StrategyHash      common.Hash
	Nonce             int64 // -1 for rejected intents
	Expiry            int64 // absolute unix seconds; 0 for rejected intents
	MinOutNet         *big.Int
	TTLSec            int64
	IdempotencyKey    string
	RealizedSpreadBps decimal.Decimal
	PriceUsed         decimal.Decimal
	Rationale         string
	Rejected          bool
	RejectionReason   RejectionReason
}

// Rejected builds a canonical rejected intent: zeroed amounts, nonce -1,
// expiry 0, per spec.md §4.5 step 3 and §8 invariant 5.
func Rejected(reason RejectionReason, rationale string) QuoteIntent {
	return QuoteIntent{
		AmountIn:        big.NewInt(0),
		AmountOut:       big.NewInt(0),
		MinOutNet:       big.NewInt(0),
		Nonce:           -1,
		Expiry:          0,
		Rejected:        true,
		RejectionReason: reason,
		Rationale:       rationale,
	}
}

// ————————————————————————————————————————————————————————————————————————
// Fill / revert ledger (advisory)
// ————————————————————————————————————————————————————————————————————————

// FillRecord is a post-hoc, advisory record of what happened on-chain to
// a previously issued intent. Writes never affect quote emission and the
// pipeline never reads this ledger.
type FillRecord struct {
	Maker     common.Address
	Nonce     int64
	TxHash    string
	ActualOut *big.Int
	Reason    string // set instead of TxHash/ActualOut when the intent reverted
	Recorded  time.Time
}
