// Package handlers provides HTTP handlers for the registry and for address and
// raw account lookups.
package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/aristath/shadowtrade/internal/auth"
	"github.com/aristath/shadowtrade/internal/domain"
	"github.com/aristath/shadowtrade/internal/httpapi"
	"github.com/aristath/shadowtrade/internal/modules/accounts"
	"github.com/aristath/shadowtrade/internal/modules/registry"
)

// Handler handles registry HTTP requests
type Handler struct {
	service *registry.Service
	store   *accounts.Store
	log     zerolog.Logger
}

// NewHandler creates a new registry handler
func NewHandler(service *registry.Service, store *accounts.Store, log zerolog.Logger) *Handler {
	return &Handler{
		service: service,
		store:   store,
		log:     log.With().Str("handler", "registry").Logger(),
	}
}

// HandleInit handles POST /api/registry
func (h *Handler) HandleInit(w http.ResponseWriter, r *http.Request) {
	reg, err := h.service.Init(r.Context(), auth.CallerFrom(r.Context()))
	if err != nil {
		httpapi.WriteError(w, h.log, err)
		return
	}
	httpapi.WriteJSON(w, h.log, http.StatusCreated, reg)
}

// HandleGet handles GET /api/registry
func (h *Handler) HandleGet(w http.ResponseWriter, r *http.Request) {
	reg, err := h.service.Get(r.Context())
	if err != nil {
		httpapi.WriteError(w, h.log, err)
		return
	}
	httpapi.WriteJSON(w, h.log, http.StatusOK, reg)
}

// DerivationResponse describes a derived address.
type DerivationResponse struct {
	Kind      string         `json:"kind"`
	Address   domain.Pubkey  `json:"address"`
	Bump      uint8          `json:"bump"`
	ProgramID domain.Pubkey  `json:"program_id"`
	Owner     *domain.Pubkey `json:"owner,omitempty"`
}

// HandleRegistryAddress handles GET /api/addresses/registry
func (h *Handler) HandleRegistryAddress(w http.ResponseWriter, r *http.Request) {
	d, err := h.store.Deriver().Registry()
	if err != nil {
		httpapi.WriteError(w, h.log, err)
		return
	}
	httpapi.WriteJSON(w, h.log, http.StatusOK, DerivationResponse{
		Kind:      "registry",
		Address:   d.Address,
		Bump:      d.Bump,
		ProgramID: h.store.Deriver().ProgramID(),
	})
}

// HandleStrategyAddress handles GET /api/addresses/strategies/{owner}
func (h *Handler) HandleStrategyAddress(w http.ResponseWriter, r *http.Request) {
	owner, err := domain.ParsePubkey(chi.URLParam(r, "owner"))
	if err != nil {
		httpapi.BadRequest(w, h.log, "invalid owner: "+err.Error())
		return
	}
	d, err := h.store.Deriver().Strategy(owner)
	if err != nil {
		httpapi.WriteError(w, h.log, err)
		return
	}
	httpapi.WriteJSON(w, h.log, http.StatusOK, DerivationResponse{
		Kind:      "strategy",
		Address:   d.Address,
		Bump:      d.Bump,
		ProgramID: h.store.Deriver().ProgramID(),
		Owner:     &owner,
	})
}

// HandleGetAccount handles GET /api/accounts/{address}. The fixed layout is
// served as application/octet-stream.
func (h *Handler) HandleGetAccount(w http.ResponseWriter, r *http.Request) {
	addr, err := domain.ParsePubkey(chi.URLParam(r, "address"))
	if err != nil {
		httpapi.BadRequest(w, h.log, "invalid address: "+err.Error())
		return
	}

	acct, err := h.store.LoadAccount(r.Context(), addr)
	if err != nil {
		httpapi.WriteError(w, h.log, err)
		return
	}
	raw, err := acct.MarshalBinary()
	if err != nil {
		httpapi.WriteError(w, h.log, err)
		return
	}

	w.Header().Set("Content-Type", "application/octet-stream")
	w.Header().Set("X-Account-Kind", accounts.AccountKind(raw))
	if _, err := w.Write(raw); err != nil {
		h.log.Warn().Err(err).Msg("Failed to write account")
	}
}
