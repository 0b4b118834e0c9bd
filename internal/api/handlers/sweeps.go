package handlers

import (
	"net/http"

	"github.com/autobrr/licensor/internal/activation"
)

type SweepsHandler struct {
	sweeper *activation.Sweeper
}

func NewSweepsHandler(sweeper *activation.Sweeper) *SweepsHandler {
	return &SweepsHandler{sweeper: sweeper}
}

// RunSweep expires overdue licenses and stale activations now
func (h *SweepsHandler) RunSweep(w http.ResponseWriter, r *http.Request) {
	report, err := h.sweeper.RunOnce(r.Context())
	if err != nil {
		RespondServiceError(w, err, "Sweep finished with errors")
		return
	}

	RespondJSON(w, http.StatusOK, report)
}

func (h *SweepsHandler) LastSweep(w http.ResponseWriter, r *http.Request) {
	report := h.sweeper.LastReport()
	if report == nil {
		RespondError(w, http.StatusNotFound, "No sweep has run yet")
		return
	}

	RespondJSON(w, http.StatusOK, report)
}
