package http

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/vncsmyrnk/qvote/internal/core/domain"
	"github.com/vncsmyrnk/qvote/internal/core/ports"
)

type TallyHandler struct {
	service ports.TallyService
}

func NewTallyHandler(service ports.TallyService) *TallyHandler {
	return &TallyHandler{
		service: service,
	}
}

// Tally values are decimal strings: ids and amounts span 256 bits and the
// sums are unbounded, which JSON numbers cannot carry exactly.
type tallyEntryResponse struct {
	ProposalID  string `json:"proposal_id"`
	Weight      string `json:"weight"`
	TotalAmount string `json:"total_amount"`
}

type tallyResponse struct {
	Entries []tallyEntryResponse `json:"entries"`
}

func newTallyResponse(entries []domain.TallyEntry) tallyResponse {
	out := tallyResponse{Entries: make([]tallyEntryResponse, len(entries))}
	for i, e := range entries {
		out.Entries[i] = tallyEntryResponse{
			ProposalID:  e.ProposalID.Dec(),
			Weight:      e.Weight.String(),
			TotalAmount: e.TotalAmount.String(),
		}
	}
	return out
}

// Tally godoc
// @Summary      Recomputes a round's tally
// @Description  Aggregates every accepted vote per proposal, ordered by first vote on each proposal.
// @Tags         tally
// @Produce      json
// @Success      200
// @Router       /api/rounds/{id}/tally [post]
func (h *TallyHandler) Tally(w http.ResponseWriter, r *http.Request) {
	entries, err := h.service.Tally(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, newTallyResponse(entries))
}

// FinalTally godoc
// @Summary      Reads the last computed tally
// @Tags         tally
// @Produce      json
// @Success      200
// @Failure      409  "round has not been tallied"
// @Router       /api/rounds/{id}/tally [get]
func (h *TallyHandler) FinalTally(w http.ResponseWriter, r *http.Request) {
	entries, err := h.service.FinalTally(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, newTallyResponse(entries))
}
