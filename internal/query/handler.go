// internal/query/handler.go
package query

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"tradecore/internal/auth"
)

type Handler struct {
	service Service
}

func NewHandler(service Service) *Handler {
	return &Handler{service: service}
}

// HandleIncoming serves GET /transactions/incoming.
func (h *Handler) HandleIncoming(w http.ResponseWriter, r *http.Request) {
	h.handleList(w, r, h.service.Incoming)
}

// HandleOutgoing serves GET /transactions/outgoing.
func (h *Handler) HandleOutgoing(w http.ResponseWriter, r *http.Request) {
	h.handleList(w, r, h.service.Outgoing)
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request, list func(ctx context.Context, userID uuid.UUID) ([]RequestView, error)) {
	claims, ok := auth.FromContext(r.Context())
	if !ok {
		http.Error(w, "missing caller identity", http.StatusUnauthorized)
		return
	}

	views, err := list(r.Context(), claims.UserID)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(views)
}

// HandleProductOffers serves GET /products/{id}/swap-offers.
func (h *Handler) HandleProductOffers(w http.ResponseWriter, r *http.Request) {
	claims, ok := auth.FromContext(r.Context())
	if !ok {
		http.Error(w, "missing caller identity", http.StatusUnauthorized)
		return
	}

	productID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		http.Error(w, "invalid product ID", http.StatusBadRequest)
		return
	}

	offers, err := h.service.OffersForProduct(r.Context(), claims.UserID, productID)
	if err != nil {
		switch {
		case errors.Is(err, ErrNotFound):
			http.Error(w, err.Error(), http.StatusNotFound)
		case errors.Is(err, ErrUnauthorized):
			http.Error(w, err.Error(), http.StatusForbidden)
		default:
			http.Error(w, err.Error(), http.StatusInternalServerError)
		}
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(offers)
}
