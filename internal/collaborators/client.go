// Package collaborators provides thin HTTP clients for the two external
// inputs the Strategy Agent depends on but does not own: the price
// engine's pricing snapshot and the chain-state service's chain
// snapshot. The HTTP boundary only calls these when a request omits
// the corresponding field inline (supplemented from the original
// system's fetch-on-demand fallback, strategyAgentOld/fetchdata.py and
// confighelper.py).
package collaborators

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/shopspring/decimal"

	"quoteagent/pkg/types"
)

// pricingSnapshotDTO is the wire shape returned by the price engine,
// per SPEC_FULL.md §6's pricing-snapshot contract and
// original_source/price-engine/main.py's Swagger schema.
type pricingSnapshotDTO struct {
	MidPrice        string          `json:"midPrice"`
	Bid             *string         `json:"bid,omitempty"`
	Ask             *string         `json:"ask,omitempty"`
	MarketSpreadBps string          `json:"marketSpreadBps"`
	DepthCurve      []depthPointDTO `json:"depthCurve"`
	SourceTimestamp time.Time       `json:"sourceTimestamp"`
	Stale           bool            `json:"stale"`
	Confidence      string          `json:"confidence"`
	SourcesUsed     []string        `json:"sourcesUsed"`
}

type depthPointDTO struct {
	AmountInRaw  string `json:"amountInRaw"`
	AmountOutRaw string `json:"amountOutRaw"`
	ImpactBps    string `json:"impactBps"`
}

// chainSnapshotDTO is the wire shape returned by the chain-state
// service.
type chainSnapshotDTO struct {
	ChainID        string    `json:"chainId"`
	StrategyID     string    `json:"strategyId"`
	Active         bool      `json:"active"`
	Docked         bool      `json:"docked"`
	TokenOutBudget string    `json:"tokenOutBudget"`
	Allowance      string    `json:"allowance"`
	LastUpdated    time.Time `json:"lastUpdated"`
}

// Client fetches pricing and chain snapshots on the HTTP boundary's
// behalf, pointed at the two external collaborator services.
type Client struct {
	pricing *resty.Client
	chain   *resty.Client
}

// New builds a Client. pricingBaseURL and chainBaseURL may be empty;
// no check is made for that, so the corresponding Fetch* call attempts
// a request against a scheme-less URL and returns the resulting
// request error. A fully-empty deployment is expected to always inline
// both snapshots.
func New(pricingBaseURL, chainBaseURL string, timeout time.Duration) *Client {
	newClient := func(baseURL string) *resty.Client {
		return resty.New().
			SetBaseURL(baseURL).
			SetTimeout(timeout).
			SetRetryCount(2).
			SetRetryWaitTime(200 * time.Millisecond)
	}
	return &Client{pricing: newClient(pricingBaseURL), chain: newClient(chainBaseURL)}
}

// FetchPricingSnapshot pulls a PricingSnapshot for (tokenIn, tokenOut)
// from the configured price engine, bounded by ctx.
func (c *Client) FetchPricingSnapshot(ctx context.Context, chainID types.ChainID, tokenIn, tokenOut string) (types.PricingSnapshot, error) {
	var dto pricingSnapshotDTO
	resp, err := c.pricing.R().
		SetContext(ctx).
		SetQueryParams(map[string]string{"chainId": string(chainID), "tokenIn": tokenIn, "tokenOut": tokenOut}).
		SetResult(&dto).
		Get("/v1/pricing")
	if err != nil {
		return types.PricingSnapshot{}, fmt.Errorf("fetch pricing snapshot: %w", err)
	}
	if resp.IsError() {
		return types.PricingSnapshot{}, fmt.Errorf("fetch pricing snapshot: status %d", resp.StatusCode())
	}
	return dto.toDomain()
}

// FetchChainSnapshot pulls a ChainSnapshot for a strategy from the
// configured chain-state service, bounded by ctx.
func (c *Client) FetchChainSnapshot(ctx context.Context, chainID types.ChainID, strategyID string) (types.ChainSnapshot, error) {
	var dto chainSnapshotDTO
	resp, err := c.chain.R().
		SetContext(ctx).
		SetQueryParams(map[string]string{"chainId": string(chainID), "strategyId": strategyID}).
		SetResult(&dto).
		Get("/v1/chain-state")
	if err != nil {
		return types.ChainSnapshot{}, fmt.Errorf("fetch chain snapshot: %w", err)
	}
	if resp.IsError() {
		return types.ChainSnapshot{}, fmt.Errorf("fetch chain snapshot: status %d", resp.StatusCode())
	}
	return dto.toDomain()
}

func (d pricingSnapshotDTO) toDomain() (types.PricingSnapshot, error) {
	mid, err := decimal.NewFromString(d.MidPrice)
	if err != nil {
		return types.PricingSnapshot{}, fmt.Errorf("parse mid_price: %w", err)
	}
	spread, err := decimal.NewFromString(d.MarketSpreadBps)
	if err != nil {
		return types.PricingSnapshot{}, fmt.Errorf("parse market_spread_bps: %w", err)
	}
	confidence, err := decimal.NewFromString(d.Confidence)
	if err != nil {
		return types.PricingSnapshot{}, fmt.Errorf("parse confidence: %w", err)
	}

	var bid, ask *decimal.Decimal
	if d.Bid != nil {
		v, err := decimal.NewFromString(*d.Bid)
		if err != nil {
			return types.PricingSnapshot{}, fmt.Errorf("parse bid: %w", err)
		}
		bid = &v
	}
	if d.Ask != nil {
		v, err := decimal.NewFromString(*d.Ask)
		if err != nil {
			return types.PricingSnapshot{}, fmt.Errorf("parse ask: %w", err)
		}
		ask = &v
	}

	curve := make([]types.DepthPoint, 0, len(d.DepthCurve))
	for _, pt := range d.DepthCurve {
		domainPt, err := pt.toDomain()
		if err != nil {
			return types.PricingSnapshot{}, err
		}
		curve = append(curve, domainPt)
	}

	return types.PricingSnapshot{
		MidPrice:        mid,
		Bid:             bid,
		Ask:             ask,
		MarketSpreadBps: spread,
		DepthCurve:      curve,
		SourceTimestamp: d.SourceTimestamp,
		Stale:           d.Stale,
		Confidence:      confidence,
		SourcesUsed:     d.SourcesUsed,
	}, nil
}

func (d depthPointDTO) toDomain() (types.DepthPoint, error) {
	in, ok := new(big.Int).SetString(d.AmountInRaw, 10)
	if !ok {
		return types.DepthPoint{}, fmt.Errorf("parse amount_in_raw %q", d.AmountInRaw)
	}
	out, ok := new(big.Int).SetString(d.AmountOutRaw, 10)
	if !ok {
		return types.DepthPoint{}, fmt.Errorf("parse amount_out_raw %q", d.AmountOutRaw)
	}
	impact, err := decimal.NewFromString(d.ImpactBps)
	if err != nil {
		return types.DepthPoint{}, fmt.Errorf("parse impact_bps: %w", err)
	}
	return types.DepthPoint{AmountInRaw: in, AmountOutRaw: out, ImpactBps: impact}, nil
}

func (d chainSnapshotDTO) toDomain() (types.ChainSnapshot, error) {
	budget, ok := new(big.Int).SetString(d.TokenOutBudget, 10)
	if !ok {
		return types.ChainSnapshot{}, fmt.Errorf("parse token_out_budget %q", d.TokenOutBudget)
	}
	allowance, ok := new(big.Int).SetString(d.Allowance, 10)
	if !ok {
		return types.ChainSnapshot{}, fmt.Errorf("parse allowance %q", d.Allowance)
	}
	return types.ChainSnapshot{
		ChainID:        types.ChainID(d.ChainID),
		StrategyID:     d.StrategyID,
		Active:         d.Active,
		Docked:         d.Docked,
		TokenOutBudget: budget,
		Allowance:      allowance,
		LastUpdated:    d.LastUpdated,
	}, nil
}
