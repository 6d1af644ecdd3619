package http

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/vncsmyrnk/qvote/internal/core/ports"
)

type RoundHandler struct {
	service ports.RoundService
}

func NewRoundHandler(service ports.RoundService) *RoundHandler {
	return &RoundHandler{
		service: service,
	}
}

type createRoundRequest struct {
	InitialCredits int64 `json:"initial_credits"`
	CostFactor     int64 `json:"cost_factor"`
}

// CreateRound godoc
// @Summary      Opens a new voting round
// @Description  Creates a round whose voters each receive initial_credits and pay amount² × cost_factor per vote.
// @Tags         rounds
// @Accept       json
// @Produce      json
// @Success      201
// @Failure      400
// @Router       /api/rounds [post]
func (h *RoundHandler) CreateRound(w http.ResponseWriter, r *http.Request) {
	var req createRoundRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	round, err := h.service.CreateRound(r.Context(), ports.CreateRoundInput{
		InitialCredits: req.InitialCredits,
		CostFactor:     req.CostFactor,
	})
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, round)
}

func (h *RoundHandler) ListRounds(w http.ResponseWriter, r *http.Request) {
	rounds, err := h.service.ListRounds(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rounds)
}

func (h *RoundHandler) GetRound(w http.ResponseWriter, r *http.Request) {
	round, err := h.service.GetRound(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, round)
}

// CloseRound godoc
// @Summary      Closes a round
// @Description  Computes the final tally and rejects further registrations and votes.
// @Tags         rounds
// @Produce      json
// @Success      200
// @Failure      404
// @Router       /api/rounds/{id}/close [post]
func (h *RoundHandler) CloseRound(w http.ResponseWriter, r *http.Request) {
	entries, err := h.service.CloseRound(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, newTallyResponse(entries))
}
