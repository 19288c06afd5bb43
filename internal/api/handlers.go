package api

import (
	"encoding/json"
	"log/slog"
	"math/big"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"quoteagent/internal/collaborators"
	"quoteagent/internal/config"
	"quoteagent/internal/pipeline"
	"quoteagent/internal/state"
	"quoteagent/pkg/types"
)

// Handlers holds the HTTP handler dependencies for the quote boundary
// (spec.md §4.7). Adapted from the teacher's Handlers: same
// construction and dependency-injection shape, generalized from a
// dashboard snapshot reader to a quote pipeline.
type Handlers struct {
	pipeline      *pipeline.Pipeline
	store         *state.Store
	collaborators *collaborators.Client
	chains        []string
	allowedOrigins []string
	hub           *Hub
	logger        *slog.Logger
}

// NewHandlers builds a Handlers instance.
func NewHandlers(p *pipeline.Pipeline, store *state.Store, collab *collaborators.Client, cfg config.Config, hub *Hub, logger *slog.Logger) *Handlers {
	return &Handlers{
		pipeline:       p,
		store:          store,
		collaborators:  collab,
		chains:         cfg.Chains.Supported,
		allowedOrigins: cfg.API.AllowedOrigins,
		hub:            hub,
		logger:         logger.With("component", "api-handlers"),
	}
}

// HandleHealth reports process liveness and configured chain support
// (spec.md §4.7).
func (h *Handlers) HandleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"status": "ok",
		"chains": h.chains,
	})
}

// HandleQuote is the primary endpoint: accepts {request, policy,
// pricing, chain}, returns {intent, explainability}. Validation errors
// become a 400; any gate rejection is a normal 200 response with
// intent.rejected = true (spec.md §4.7).
func (h *Handlers) HandleQuote(w http.ResponseWriter, r *http.Request) {
	var dto QuoteRequestDTO
	if err := json.NewDecoder(r.Body).Decode(&dto); err != nil {
		http.Error(w, "malformed request body: "+err.Error(), http.StatusBadRequest)
		return
	}

	req, err := dto.Request.toDomain()
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if err := req.Validate(); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	if dto.Policy == nil {
		http.Error(w, "policy is required", http.StatusBadRequest)
		return
	}
	pol, err := dto.Policy.toDomain()
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	pricing, pricingSource, err := h.resolvePricing(r, dto.Pricing, req)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	chain, err := h.resolveChain(r, dto.Chain, req, pol)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	intent, expl := h.pipeline.Run(req, pol, pricing, chain)
	if expl.PricingSource == "" {
		expl.PricingSource = pricingSource
	}

	if h.hub != nil {
		h.hub.BroadcastEvent(QuoteEvent{Type: "quote", Timestamp: time.Now(), Data: map[string]interface{}{
			"maker":    pol.Maker.Hex(),
			"rejected": intent.Rejected,
			"reason":   intent.RejectionReason,
		}})
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"intent":         fromIntent(intent),
		"explainability": toExplainabilityDTO(expl),
	})
}

// resolvePricing uses the inline pricing snapshot if present, else
// fetches one via the collaborators client (spec.md §2.2 DOMAIN STACK).
func (h *Handlers) resolvePricing(r *http.Request, dto *PricingDTO, req types.QuoteRequest) (types.PricingSnapshot, string, error) {
	if dto != nil {
		snap, err := dto.toDomain()
		return snap, "inline", err
	}
	if h.collaborators == nil {
		return types.PricingSnapshot{}, "", errMissingCollaborator("pricing")
	}
	snap, err := h.collaborators.FetchPricingSnapshot(r.Context(), req.ChainID, req.TokenIn.Hex(), req.TokenOut.Hex())
	return snap, "fetched", err
}

// resolveChain uses the inline chain snapshot if present, else fetches
// one via the collaborators client.
func (h *Handlers) resolveChain(r *http.Request, dto *ChainDTO, req types.QuoteRequest, pol types.MakerPolicy) (types.ChainSnapshot, error) {
	if dto != nil {
		return dto.toDomain()
	}
	if h.collaborators == nil {
		return types.ChainSnapshot{}, errMissingCollaborator("chain")
	}
	strategyID, _ := pol.StrategyFor(req.TokenIn, req.TokenOut)
	return h.collaborators.FetchChainSnapshot(r.Context(), req.ChainID, strategyID)
}

func errMissingCollaborator(name string) error {
	return &missingCollaboratorError{name: name}
}

type missingCollaboratorError struct{ name string }

func (e *missingCollaboratorError) Error() string {
	return e.name + " snapshot omitted and no collaborator configured to fetch it"
}

// HandleFill looks up an advisory fill/revert record by (maker, nonce)
// (supplemented endpoint, SPEC_FULL.md §4.7).
func (h *Handlers) HandleFill(w http.ResponseWriter, r *http.Request) {
	maker := r.PathValue("maker")
	nonceStr := r.PathValue("nonce")
	nonce, err := parseNonce(nonceStr)
	if err != nil {
		http.Error(w, "nonce must be an integer", http.StatusBadRequest)
		return
	}
	rec, ok := h.store.Fill(maker, nonce)
	if !ok {
		http.Error(w, "no fill record found", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"maker":     rec.Maker.Hex(),
		"nonce":     rec.Nonce,
		"txHash":    rec.TxHash,
		"actualOut": stringOrNil(rec.ActualOut),
		"reason":    rec.Reason,
		"recorded":  rec.Recorded,
	})
}

// HandleWebSocket upgrades the connection to the operator
// explainability/event stream (spec.md §2.2 DOMAIN STACK).
func (h *Handlers) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	upgrader := websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(req *http.Request) bool {
			return isOriginAllowed(req.Header.Get("Origin"), h.allowedOrigins, req.Host)
		},
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error("websocket upgrade failed", "error", err)
		return
	}
	NewClient(h.hub, conn)
}

func isOriginAllowed(origin string, allowedOrigins []string, reqHost string) bool {
	if origin == "" {
		return true
	}
	originURL, err := url.Parse(origin)
	if err != nil {
		return false
	}
	normalized := normalizeOrigin(originURL.Scheme, originURL.Host)
	if normalized == "" {
		return false
	}

	if len(allowedOrigins) > 0 {
		for _, allowed := range allowedOrigins {
			u, err := url.Parse(allowed)
			if err != nil {
				continue
			}
			if normalized == normalizeOrigin(u.Scheme, u.Host) {
				return true
			}
		}
		return false
	}

	host := strings.ToLower(originURL.Hostname())
	if host == "localhost" || host == "127.0.0.1" || host == "::1" {
		return true
	}
	reqHostname := normalizeHost(reqHost)
	return reqHostname != "" && host == reqHostname
}

func normalizeOrigin(scheme, host string) string {
	if scheme == "" || host == "" {
		return ""
	}
	return strings.ToLower(scheme) + "://" + strings.ToLower(host)
}

func normalizeHost(hostport string) string {
	hostport = strings.TrimSpace(hostport)
	if hostport == "" {
		return ""
	}
	if host, _, err := net.SplitHostPort(hostport); err == nil {
		return strings.ToLower(host)
	}
	return strings.ToLower(hostport)
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

func toExplainabilityDTO(e pipeline.Explainability) ExplainabilityDTO {
	return ExplainabilityDTO{
		PolicyTrace:      e.PolicyTrace,
		FeasibilityTrace: e.FeasibilityTrace,
		Warnings:         e.Warnings,
		PricingSource:    e.PricingSource,
	}
}

func parseNonce(s string) (int64, error) {
	return strconv.ParseInt(s, 10, 64)
}

func stringOrNil(b *big.Int) string {
	if b == nil {
		return ""
	}
	return b.String()
}
