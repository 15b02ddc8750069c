// Package handlers provides HTTP handlers for settlements and strategy snapshots.
package handlers

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/aristath/shadowtrade/internal/auth"
	"github.com/aristath/shadowtrade/internal/domain"
	"github.com/aristath/shadowtrade/internal/httpapi"
	"github.com/aristath/shadowtrade/internal/modules/accounts"
	"github.com/aristath/shadowtrade/internal/modules/settlement"
)

// Handler handles settlement HTTP requests
type Handler struct {
	service *settlement.Service
	log     zerolog.Logger
}

// NewHandler creates a new settlement handler
func NewHandler(service *settlement.Service, log zerolog.Logger) *Handler {
	return &Handler{
		service: service,
		log:     log.With().Str("handler", "settlement").Logger(),
	}
}

// SettleRequest is the body of POST /api/strategies/settle. Owner defaults to
// the signer.
type SettleRequest struct {
	Owner *domain.Pubkey `json:"owner,omitempty"`
	settlement.Summary
}

// HandleSettle handles POST /api/strategies/settle
func (h *Handler) HandleSettle(w http.ResponseWriter, r *http.Request) {
	var req SettleRequest
	if err := httpapi.DecodeJSON(r, &req); err != nil {
		httpapi.BadRequest(w, h.log, err.Error())
		return
	}

	caller := auth.CallerFrom(r.Context())
	owner := caller.Pubkey()
	if req.Owner != nil {
		owner = *req.Owner
	}

	st, err := h.service.Settle(r.Context(), caller, owner, req.Summary)
	if err != nil {
		httpapi.WriteError(w, h.log, err)
		return
	}
	httpapi.WriteJSON(w, h.log, http.StatusOK, st.View())
}

// HandleGetStrategy handles GET /api/strategies/{owner}
func (h *Handler) HandleGetStrategy(w http.ResponseWriter, r *http.Request) {
	owner, err := domain.ParsePubkey(chi.URLParam(r, "owner"))
	if err != nil {
		httpapi.BadRequest(w, h.log, "invalid owner: "+err.Error())
		return
	}

	st, err := h.service.Get(r.Context(), owner)
	if err != nil {
		httpapi.WriteError(w, h.log, err)
		return
	}
	httpapi.WriteJSON(w, h.log, http.StatusOK, st.View())
}

// HandleListStrategies handles GET /api/strategies
func (h *Handler) HandleListStrategies(w http.ResponseWriter, r *http.Request) {
	limit, offset := 100, 0
	if v, err := strconv.Atoi(r.URL.Query().Get("limit")); err == nil && v > 0 {
		limit = v
	}
	if v, err := strconv.Atoi(r.URL.Query().Get("offset")); err == nil && v >= 0 {
		offset = v
	}

	list, err := h.service.List(r.Context(), limit, offset)
	if err != nil {
		httpapi.WriteError(w, h.log, err)
		return
	}

	views := make([]accounts.StrategyView, 0, len(list))
	for _, st := range list {
		views = append(views, st.View())
	}
	httpapi.WriteJSON(w, h.log, http.StatusOK, map[string]interface{}{
		"strategies": views,
		"count":      len(views),
	})
}
