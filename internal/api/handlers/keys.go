package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/autobrr/licensor/internal/keyvault"
	"github.com/autobrr/licensor/internal/models"
)

type KeysHandler struct {
	vault     *keyvault.Vault
	directory *models.DirectoryStore
}

func NewKeysHandler(vault *keyvault.Vault, directory *models.DirectoryStore) *KeysHandler {
	return &KeysHandler{vault: vault, directory: directory}
}

// ListKeys returns the public half of every key pair a product has used
func (h *KeysHandler) ListKeys(w http.ResponseWriter, r *http.Request) {
	pairs, err := h.vault.PublicKeys(r.Context(), chi.URLParam(r, "productID"))
	if err != nil {
		RespondServiceError(w, err, "Failed to list key pairs")
		return
	}

	RespondJSON(w, http.StatusOK, pairs)
}

// GetActiveKey returns the active key pair. Pairs are only generated by
// issuing a license or rotating.
func (h *KeysHandler) GetActiveKey(w http.ResponseWriter, r *http.Request) {
	kp, err := h.vault.GetActiveKeyPair(r.Context(), chi.URLParam(r, "productID"))
	if err != nil {
		RespondServiceError(w, err, "Failed to get active key pair")
		return
	}

	RespondJSON(w, http.StatusOK, kp)
}

func (h *KeysHandler) RotateKeys(w http.ResponseWriter, r *http.Request) {
	productID := chi.URLParam(r, "productID")
	if _, err := h.directory.GetProduct(r.Context(), productID); err != nil {
		RespondServiceError(w, err, "Failed to rotate key pair")
		return
	}

	kp, err := h.vault.RotateKeys(r.Context(), productID)
	if err != nil {
		RespondServiceError(w, err, "Failed to rotate key pair")
		return
	}

	RespondJSON(w, http.StatusCreated, kp)
}

func (h *KeysHandler) DeactivateKey(w http.ResponseWriter, r *http.Request) {
	if err := h.vault.Deactivate(r.Context(), chi.URLParam(r, "productID")); err != nil {
		RespondServiceError(w, err, "Failed to deactivate key pair")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}
