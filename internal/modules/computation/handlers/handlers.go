// Package handlers provides HTTP handlers for computation requests.
package handlers

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/aristath/shadowtrade/internal/auth"
	"github.com/aristath/shadowtrade/internal/domain"
	"github.com/aristath/shadowtrade/internal/httpapi"
	"github.com/aristath/shadowtrade/internal/modules/computation"
)

// Handler handles computation HTTP requests
type Handler struct {
	service *computation.Service
	log     zerolog.Logger
}

// NewHandler creates a new computation handler
func NewHandler(service *computation.Service, log zerolog.Logger) *Handler {
	return &Handler{
		service: service,
		log:     log.With().Str("handler", "computation").Logger(),
	}
}

// RSIRequest is the body of POST /api/computations/rsi. Ciphertexts are base64.
type RSIRequest struct {
	EncryptedPrices domain.Ciphertext `json:"encrypted_prices"`
	computation.RSIParams
}

// PositionSizeRequest is the body of POST /api/computations/position-size
type PositionSizeRequest struct {
	EncryptedBalance domain.Ciphertext `json:"encrypted_balance"`
	computation.PositionSizeParams
}

// PerformanceRequest is the body of POST /api/computations/performance
type PerformanceRequest struct {
	EncryptedTrades         domain.Ciphertext `json:"encrypted_trades"`
	EncryptedInitialBalance domain.Ciphertext `json:"encrypted_initial_balance"`
}

// HandleRequestRSI handles POST /api/computations/rsi
func (h *Handler) HandleRequestRSI(w http.ResponseWriter, r *http.Request) {
	var req RSIRequest
	if err := httpapi.DecodeJSON(r, &req); err != nil {
		httpapi.BadRequest(w, h.log, err.Error())
		return
	}

	receipt, err := h.service.RequestRSI(r.Context(), auth.CallerFrom(r.Context()), req.EncryptedPrices, req.RSIParams)
	h.writeReceipt(w, receipt, err)
}

// HandleRequestPositionSize handles POST /api/computations/position-size
func (h *Handler) HandleRequestPositionSize(w http.ResponseWriter, r *http.Request) {
	var req PositionSizeRequest
	if err := httpapi.DecodeJSON(r, &req); err != nil {
		httpapi.BadRequest(w, h.log, err.Error())
		return
	}

	receipt, err := h.service.RequestPositionSize(r.Context(), auth.CallerFrom(r.Context()), req.EncryptedBalance, req.PositionSizeParams)
	h.writeReceipt(w, receipt, err)
}

// HandleRequestPerformance handles POST /api/computations/performance
func (h *Handler) HandleRequestPerformance(w http.ResponseWriter, r *http.Request) {
	var req PerformanceRequest
	if err := httpapi.DecodeJSON(r, &req); err != nil {
		httpapi.BadRequest(w, h.log, err.Error())
		return
	}

	receipt, err := h.service.RequestPerformance(r.Context(), auth.CallerFrom(r.Context()), req.EncryptedTrades, req.EncryptedInitialBalance)
	h.writeReceipt(w, receipt, err)
}

func (h *Handler) writeReceipt(w http.ResponseWriter, receipt *computation.Receipt, err error) {
	if err != nil {
		httpapi.WriteError(w, h.log, err)
		return
	}
	httpapi.WriteJSON(w, h.log, http.StatusAccepted, receipt)
}

// HandleGetPending handles GET /api/computations/pending
func (h *Handler) HandleGetPending(w http.ResponseWriter, r *http.Request) {
	limit := 100
	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		if parsed, err := strconv.Atoi(limitStr); err == nil && parsed > 0 {
			limit = parsed
		}
	}

	pending, err := h.service.Pending(r.Context(), limit)
	if err != nil {
		httpapi.WriteError(w, h.log, err)
		return
	}
	httpapi.WriteJSON(w, h.log, http.StatusOK, map[string]interface{}{
		"pending": pending,
		"count":   len(pending),
	})
}

// HandleGetRequest handles GET /api/computations/{id}
func (h *Handler) HandleGetRequest(w http.ResponseWriter, r *http.Request) {
	receipt, err := h.service.Request(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		httpapi.WriteError(w, h.log, err)
		return
	}
	httpapi.WriteJSON(w, h.log, http.StatusOK, receipt)
}

// HandleGetInput handles GET /api/computations/{id}/inputs/{slot}
func (h *Handler) HandleGetInput(w http.ResponseWriter, r *http.Request) {
	data, ref, err := h.service.Input(r.Context(), chi.URLParam(r, "id"), chi.URLParam(r, "slot"))
	if err != nil {
		httpapi.WriteError(w, h.log, err)
		return
	}

	w.Header().Set("Content-Type", "application/octet-stream")
	w.Header().Set("X-Content-SHA256", ref.Digest)
	w.Header().Set("Content-Length", strconv.Itoa(ref.Size))
	if _, err := w.Write(data); err != nil {
		h.log.Warn().Err(err).Msg("Failed to write encrypted input")
	}
}
