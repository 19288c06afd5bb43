package api

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"

	"quoteagent/pkg/types"
)

// QuoteRequestDTO is the wire shape of the primary endpoint's request
// bundle: {request, policy, pricing, chain} (spec.md §4.7, §6).
type QuoteRequestDTO struct {
	Request RequestDTO        `json:"request"`
	Policy  *PolicyDTO        `json:"policy,omitempty"`
	Pricing *PricingDTO       `json:"pricing,omitempty"`
	Chain   *ChainDTO         `json:"chain,omitempty"`
}

// RequestDTO is the taker's ask.
type RequestDTO struct {
	ChainID        string `json:"chainId"`
	Side           string `json:"side"`
	TokenIn        string `json:"tokenIn"`
	TokenOut       string `json:"tokenOut"`
	Amount         string `json:"amount"`
	Taker          string `json:"taker"`
	Recipient      string `json:"recipient,omitempty"`
	IdempotencyKey string `json:"idempotencyKey,omitempty"`
}

// PolicyDTO is a maker's policy record. Omitted when the deployment
// looks up policy by maker out of band — this deployment always
// requires it inline (spec.md leaves policy sourcing external).
type PolicyDTO struct {
	Maker         string            `json:"maker"`
	AllowedPairs  [][2]string       `json:"allowedPairs"`
	MaxTradeSize  string            `json:"maxTradeSize,omitempty"`
	DailyCaps     map[string]string `json:"dailyCaps,omitempty"`
	Paused        bool              `json:"paused"`
	SpreadMinBps  int               `json:"spreadMinBps"`
	SpreadMaxBps  int               `json:"spreadMaxBps"`
	DefaultTTLSec int64             `json:"defaultTtlSec"`
	StrategyMap   map[string]string `json:"strategyMap,omitempty"`
	FeeBps        int64             `json:"feeBps,omitempty"`
	MinConfidence string            `json:"minConfidence,omitempty"`
	MaxImpactBps  int64             `json:"maxImpactBps,omitempty"`
}

// PricingDTO is the pricing snapshot record (spec.md §6).
type PricingDTO struct {
	MidPrice        string          `json:"midPrice"`
	Bid             *string         `json:"bid,omitempty"`
	Ask             *string         `json:"ask,omitempty"`
	MarketSpreadBps string          `json:"marketSpreadBps"`
	DepthCurve      []DepthPointDTO `json:"depthCurve"`
	Stale           bool            `json:"stale"`
	Confidence      string          `json:"confidence"`
	SourcesUsed     []string        `json:"sourcesUsed,omitempty"`
}

// DepthPointDTO is one cumulative depth-curve sample.
type DepthPointDTO struct {
	AmountInRaw  string `json:"amountInRaw"`
	AmountOutRaw string `json:"amountOutRaw"`
	ImpactBps    string `json:"impactBps"`
}

// ChainDTO is the chain snapshot record (spec.md §6).
type ChainDTO struct {
	ChainID        string `json:"chainId"`
	StrategyID     string `json:"strategyId"`
	Active         bool   `json:"active"`
	Docked         bool   `json:"docked"`
	TokenOutBudget string `json:"tokenOutBudget"`
	Allowance      string `json:"allowance"`
}

// toDomain converts RequestDTO into the domain type, parsing
// big-integer amount fields and validating addresses. Returns an error
// for anything malformed — the HTTP boundary turns this into a 4xx,
// the only transport-boundary failure mode (spec.md §4.7).
func (d RequestDTO) toDomain() (types.QuoteRequest, error) {
	if !common.IsHexAddress(d.TokenIn) || !common.IsHexAddress(d.TokenOut) || !common.IsHexAddress(d.Taker) {
		return types.QuoteRequest{}, fmt.Errorf("token_in, token_out, and taker must be valid addresses")
	}
	amount, ok := new(big.Int).SetString(d.Amount, 10)
	if !ok {
		return types.QuoteRequest{}, fmt.Errorf("amount must be a base-10 integer string, got %q", d.Amount)
	}
	var recipient common.Address
	if d.Recipient != "" {
		if !common.IsHexAddress(d.Recipient) {
			return types.QuoteRequest{}, fmt.Errorf("recipient must be a valid address")
		}
		recipient = common.HexToAddress(d.Recipient)
	}
	return types.QuoteRequest{
		ChainID:        types.ChainID(d.ChainID),
		Side:           types.Side(d.Side),
		TokenIn:        common.HexToAddress(d.TokenIn),
		TokenOut:       common.HexToAddress(d.TokenOut),
		Amount:         amount,
		Taker:          common.HexToAddress(d.Taker),
		Recipient:      recipient,
		IdempotencyKey: d.IdempotencyKey,
	}, nil
}

func (d PolicyDTO) toDomain() (types.MakerPolicy, error) {
	if !common.IsHexAddress(d.Maker) {
		return types.MakerPolicy{}, fmt.Errorf("policy.maker must be a valid address")
	}
	allowed := make(map[types.PairKey]bool, len(d.AllowedPairs))
	for _, pair := range d.AllowedPairs {
		if !common.IsHexAddress(pair[0]) || !common.IsHexAddress(pair[1]) {
			return types.MakerPolicy{}, fmt.Errorf("policy.allowedPairs entries must be valid addresses")
		}
		allowed[types.NewPairKey(common.HexToAddress(pair[0]), common.HexToAddress(pair[1]))] = true
	}

	var maxTradeSize *big.Int
	if d.MaxTradeSize != "" {
		v, ok := new(big.Int).SetString(d.MaxTradeSize, 10)
		if !ok {
			return types.MakerPolicy{}, fmt.Errorf("policy.maxTradeSize must be a base-10 integer string")
		}
		maxTradeSize = v
	}

	dailyCaps := make(map[common.Address]*big.Int, len(d.DailyCaps))
	for token, capStr := range d.DailyCaps {
		if !common.IsHexAddress(token) {
			return types.MakerPolicy{}, fmt.Errorf("policy.dailyCaps keys must be valid addresses")
		}
		v, ok := new(big.Int).SetString(capStr, 10)
		if !ok {
			return types.MakerPolicy{}, fmt.Errorf("policy.dailyCaps values must be base-10 integer strings")
		}
		dailyCaps[common.HexToAddress(token)] = v
	}

	strategyMap := make(map[types.PairKey]string, len(d.StrategyMap))
	for pairStr, id := range d.StrategyMap {
		// pairStr format: "<tokenA>-<tokenB>"
		a, b, err := splitPair(pairStr)
		if err != nil {
			return types.MakerPolicy{}, err
		}
		strategyMap[types.NewPairKey(a, b)] = id
	}

	minConfidence := decimal.NewFromFloat(0.85)
	if d.MinConfidence != "" {
		v, err := decimal.NewFromString(d.MinConfidence)
		if err != nil {
			return types.MakerPolicy{}, fmt.Errorf("policy.minConfidence: %w", err)
		}
		minConfidence = v
	}

	return types.MakerPolicy{
		Maker:         common.HexToAddress(d.Maker),
		AllowedPairs:  allowed,
		MaxTradeSize:  maxTradeSize,
		DailyCaps:     dailyCaps,
		Paused:        d.Paused,
		Spread:        types.SpreadBand{MinBps: d.SpreadMinBps, MaxBps: d.SpreadMaxBps},
		DefaultTTLSec: d.DefaultTTLSec,
		StrategyMap:   strategyMap,
		FeeBps:        d.FeeBps,
		MinConfidence: minConfidence,
		MaxImpactBps:  d.MaxImpactBps,
	}, nil
}

func splitPair(s string) (common.Address, common.Address, error) {
	for i := 0; i < len(s); i++ {
		if s[i] == '-' {
			a, b := s[:i], s[i+1:]
			if common.IsHexAddress(a) && common.IsHexAddress(b) {
				return common.HexToAddress(a), common.HexToAddress(b), nil
			}
		}
	}
	return common.Address{}, common.Address{}, fmt.Errorf("strategyMap key %q must be formatted <tokenA>-<tokenB>", s)
}

func (d PricingDTO) toDomain() (types.PricingSnapshot, error) {
	mid, err := decimal.NewFromString(d.MidPrice)
	if err != nil {
		return types.PricingSnapshot{}, fmt.Errorf("pricing.midPrice: %w", err)
	}
	spread, err := decimal.NewFromString(d.MarketSpreadBps)
	if err != nil {
		return types.PricingSnapshot{}, fmt.Errorf("pricing.marketSpreadBps: %w", err)
	}
	confidence, err := decimal.NewFromString(d.Confidence)
	if err != nil {
		return types.PricingSnapshot{}, fmt.Errorf("pricing.confidence: %w", err)
	}

	var bid, ask *decimal.Decimal
	if d.Bid != nil {
		v, err := decimal.NewFromString(*d.Bid)
		if err != nil {
			return types.PricingSnapshot{}, fmt.Errorf("pricing.bid: %w", err)
		}
		bid = &v
	}
	if d.Ask != nil {
		v, err := decimal.NewFromString(*d.Ask)
		if err != nil {
			return types.PricingSnapshot{}, fmt.Errorf("pricing.ask: %w", err)
		}
		ask = &v
	}

	curve := make([]types.DepthPoint, 0, len(d.DepthCurve))
	for _, pt := range d.DepthCurve {
		in, ok := new(big.Int).SetString(pt.AmountInRaw, 10)
		if !ok {
			return types.PricingSnapshot{}, fmt.Errorf("pricing.depthCurve amount_in_raw %q invalid", pt.AmountInRaw)
		}
		out, ok := new(big.Int).SetString(pt.AmountOutRaw, 10)
		if !ok {
			return types.PricingSnapshot{}, fmt.Errorf("pricing.depthCurve amount_out_raw %q invalid", pt.AmountOutRaw)
		}
		impact, err := decimal.NewFromString(pt.ImpactBps)
		if err != nil {
			return types.PricingSnapshot{}, fmt.Errorf("pricing.depthCurve impact_bps: %w", err)
		}
		curve = append(curve, types.DepthPoint{AmountInRaw: in, AmountOutRaw: out, ImpactBps: impact})
	}

	return types.PricingSnapshot{
		MidPrice:        mid,
		Bid:             bid,
		Ask:             ask,
		MarketSpreadBps: spread,
		DepthCurve:      curve,
		Stale:           d.Stale,
		Confidence:      confidence,
		SourcesUsed:     d.SourcesUsed,
	}, nil
}

func (d ChainDTO) toDomain() (types.ChainSnapshot, error) {
	budget, ok := new(big.Int).SetString(d.TokenOutBudget, 10)
	if !ok {
		return types.ChainSnapshot{}, fmt.Errorf("chain.tokenOutBudget must be a base-10 integer string")
	}
	allowance, ok := new(big.Int).SetString(d.Allowance, 10)
	if !ok {
		return types.ChainSnapshot{}, fmt.Errorf("chain.allowance must be a base-10 integer string")
	}
	return types.ChainSnapshot{
		ChainID:        types.ChainID(d.ChainID),
		StrategyID:     d.StrategyID,
		Active:         d.Active,
		Docked:         d.Docked,
		TokenOutBudget: budget,
		Allowance:      allowance,
	}, nil
}

// IntentDTO is the response's quote-intent record.
type IntentDTO struct {
	Maker             string   `json:"maker"`
	TokenIn           string   `json:"tokenIn"`
	TokenOut          string   `json:"tokenOut"`
	AmountIn          string   `json:"amountIn"`
	AmountOut         string   `json:"amountOut"`
	StrategyHash      string   `json:"strategyHash"`
	Nonce             int64    `json:"nonce"`
	Expiry            int64    `json:"expiry"`
	MinOutNet         string   `json:"minOutNet"`
	TTLSec            int64    `json:"ttlSec"`
	IdempotencyKey    string   `json:"idempotencyKey,omitempty"`
	RealizedSpreadBps string   `json:"realizedSpreadBps"`
	PriceUsed         string   `json:"priceUsed"`
	Rationale         string   `json:"rationale"`
	Rejected          bool     `json:"rejected"`
	RejectionReason   string   `json:"rejectionReason,omitempty"`
}

func fromIntent(i types.QuoteIntent) IntentDTO {
	return IntentDTO{
		Maker:             i.Maker.Hex(),
		TokenIn:           i.TokenIn.Hex(),
		TokenOut:          i.TokenOut.Hex(),
		AmountIn:          i.AmountIn.String(),
		AmountOut:         i.AmountOut.String(),
		StrategyHash:      i.StrategyHash.Hex(),
		Nonce:             i.Nonce,
		Expiry:            i.Expiry,
		MinOutNet:         i.MinOutNet.String(),
		TTLSec:            i.TTLSec,
		IdempotencyKey:    i.IdempotencyKey,
		RealizedSpreadBps: i.RealizedSpreadBps.String(),
		PriceUsed:         i.PriceUsed.String(),
		Rationale:         i.Rationale,
		Rejected:          i.Rejected,
		RejectionReason:   string(i.RejectionReason),
	}
}

// ExplainabilityDTO is the response's explainability record.
type ExplainabilityDTO struct {
	PolicyTrace      []string `json:"policyTrace,omitempty"`
	FeasibilityTrace []string `json:"feasibilityTrace,omitempty"`
	Warnings         []string `json:"warnings,omitempty"`
	PricingSource    string   `json:"pricingSource"`
}
