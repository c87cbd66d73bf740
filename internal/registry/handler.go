// internal/registry/handler.go
package registry

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
)

type Handler struct {
	service Service
}

func NewHandler(service Service) *Handler {
	return &Handler{service: service}
}

// Routes mounts every registry endpoint. The status-transition endpoints are
// the engine's side-effect surface; product creation seeds listings.
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Post("/products", h.handleAddProduct)
	r.Get("/products/{id}", h.handleGetProduct)
	r.Post("/products/{id}/reserve", h.handleTransition(Service.ReserveProduct))
	r.Post("/products/{id}/release", h.handleTransition(Service.ReleaseProduct))
	r.Post("/products/{id}/sold", h.handleTransition(Service.MarkSold))
	r.Post("/products/exchange", h.handleExchange)
	return r
}

func (h *Handler) handleAddProduct(w http.ResponseWriter, r *http.Request) {
	var req struct {
		OwnerID     uuid.UUID `json:"owner_id"`
		Title       string    `json:"title"`
		Description string    `json:"description"`
		Category    string    `json:"category"`
		Price       float64   `json:"price"`
		ListingType string    `json:"listing_type"`
		ImageURL    string    `json:"image_url"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if req.Title == "" || req.OwnerID == uuid.Nil {
		http.Error(w, "owner_id and title are required", http.StatusBadRequest)
		return
	}

	product, err := h.service.AddProduct(r.Context(), req.OwnerID, req.Title, req.Description, req.Category, req.Price, req.ListingType, req.ImageURL)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(product)
}

func (h *Handler) handleGetProduct(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		http.Error(w, "invalid product ID", http.StatusBadRequest)
		return
	}

	product, err := h.service.GetProduct(r.Context(), id)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(product)
}

func (h *Handler) handleTransition(op func(Service, context.Context, uuid.UUID) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := uuid.Parse(chi.URLParam(r, "id"))
		if err != nil {
			http.Error(w, "invalid product ID", http.StatusBadRequest)
			return
		}

		if err := op(h.service, r.Context(), id); err != nil {
			writeServiceError(w, err)
			return
		}

		w.WriteHeader(http.StatusOK)
	}
}

func (h *Handler) handleExchange(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ProductA uuid.UUID `json:"product_a"`
		ProductB uuid.UUID `json:"product_b"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	if err := h.service.ExchangeOwners(r.Context(), req.ProductA, req.ProductB); err != nil {
		writeServiceError(w, err)
		return
	}

	w.WriteHeader(http.StatusOK)
}

func writeServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrNotFound):
		http.Error(w, err.Error(), http.StatusNotFound)
	case errors.Is(err, ErrConflict):
		http.Error(w, err.Error(), http.StatusConflict)
	default:
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}
