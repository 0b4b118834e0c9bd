package handlers

import (
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/autobrr/licensor/internal/models"
)

type DirectoryHandler struct {
	store *models.DirectoryStore
	now   func() time.Time
}

func NewDirectoryHandler(store *models.DirectoryStore) *DirectoryHandler {
	return &DirectoryHandler{store: store, now: time.Now}
}

func (h *DirectoryHandler) CreateProduct(w http.ResponseWriter, r *http.Request) {
	var product models.Product
	if !decodeBody(w, r, &product) {
		return
	}

	if strings.TrimSpace(product.Name) == "" {
		RespondError(w, http.StatusBadRequest, "name is required")
		return
	}
	if product.ID == "" {
		product.ID = uuid.NewString()
	}
	product.CreatedAt = h.now().UTC()

	if err := h.store.CreateProduct(r.Context(), &product); err != nil {
		RespondServiceError(w, err, "Failed to create product")
		return
	}

	RespondJSON(w, http.StatusCreated, product)
}

func (h *DirectoryHandler) GetProduct(w http.ResponseWriter, r *http.Request) {
	product, err := h.store.GetProduct(r.Context(), chi.URLParam(r, "productID"))
	if err != nil {
		RespondServiceError(w, err, "Failed to get product")
		return
	}

	RespondJSON(w, http.StatusOK, product)
}

func (h *DirectoryHandler) CreateConsumer(w http.ResponseWriter, r *http.Request) {
	var consumer models.Consumer
	if !decodeBody(w, r, &consumer) {
		return
	}

	if strings.TrimSpace(consumer.Name) == "" || strings.TrimSpace(consumer.Email) == "" {
		RespondError(w, http.StatusBadRequest, "name and email are required")
		return
	}
	if consumer.ID == "" {
		consumer.ID = uuid.NewString()
	}
	consumer.CreatedAt = h.now().UTC()

	if err := h.store.CreateConsumer(r.Context(), &consumer); err != nil {
		RespondServiceError(w, err, "Failed to create consumer")
		return
	}

	RespondJSON(w, http.StatusCreated, consumer)
}

func (h *DirectoryHandler) GetConsumer(w http.ResponseWriter, r *http.Request) {
	consumer, err := h.store.GetConsumer(r.Context(), chi.URLParam(r, "consumerID"))
	if err != nil {
		RespondServiceError(w, err, "Failed to get consumer")
		return
	}

	RespondJSON(w, http.StatusOK, consumer)
}

func (h *DirectoryHandler) CreateTier(w http.ResponseWriter, r *http.Request) {
	var tier models.Tier
	if !decodeBody(w, r, &tier) {
		return
	}

	if strings.TrimSpace(tier.Name) == "" || tier.ProductID == "" {
		RespondError(w, http.StatusBadRequest, "name and productId are required")
		return
	}
	if tier.MaxActivations < 0 || tier.MaxConcurrentUsers < 0 {
		RespondError(w, http.StatusBadRequest, "caps must not be negative")
		return
	}

	if _, err := h.store.GetProduct(r.Context(), tier.ProductID); err != nil {
		RespondServiceError(w, err, "Failed to get product")
		return
	}

	if tier.ID == "" {
		tier.ID = uuid.NewString()
	}
	tier.CreatedAt = h.now().UTC()

	if err := h.store.CreateTier(r.Context(), &tier); err != nil {
		RespondServiceError(w, err, "Failed to create tier")
		return
	}

	RespondJSON(w, http.StatusCreated, tier)
}

func (h *DirectoryHandler) GetTier(w http.ResponseWriter, r *http.Request) {
	tier, err := h.store.GetTier(r.Context(), chi.URLParam(r, "tierID"))
	if err != nil {
		RespondServiceError(w, err, "Failed to get tier")
		return
	}

	RespondJSON(w, http.StatusOK, tier)
}
