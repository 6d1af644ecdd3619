package http

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/go-chi/chi/v5"

	"github.com/vncsmyrnk/qvote/internal/core/domain"
	"github.com/vncsmyrnk/qvote/internal/core/ports"
)

type VoteHandler struct {
	service ports.VoteService
}

func NewVoteHandler(service ports.VoteService) *VoteHandler {
	return &VoteHandler{
		service: service,
	}
}

type registerVoterRequest struct {
	Address string `json:"address"`
}

type castVotesRequest struct {
	// Voter may be omitted by voters; it defaults to the token subject.
	Voter string   `json:"voter,omitempty"`
	Votes []string `json:"votes"`
}

type balanceResponse struct {
	Voter         string `json:"voter"`
	CreditBalance uint64 `json:"credit_balance"`
}

// RegisterVoter godoc
// @Summary      Registers a voter in a round
// @Description  Issues the round's initial credits to the address. Registering twice fails with 409 and never re-issues credits.
// @Tags         voters
// @Accept       json
// @Produce      json
// @Success      201
// @Failure      409
// @Router       /api/rounds/{id}/voters [post]
func (h *VoteHandler) RegisterVoter(w http.ResponseWriter, r *http.Request) {
	var req registerVoterRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	voter, err := h.service.RegisterVoter(r.Context(), chi.URLParam(r, "id"), req.Address)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, voter)
}

// CastVotes godoc
// @Summary      Casts a batch of votes
// @Description  Each entry is the hex ABI encoding of (uint256 proposalId, uint256 amount). The batch is applied entirely or not at all.
// @Tags         votes
// @Accept       json
// @Success      201
// @Failure      422
// @Router       /api/rounds/{id}/votes [post]
func (h *VoteHandler) CastVotes(w http.ResponseWriter, r *http.Request) {
	principal, ok := principalFrom(r)
	if !ok {
		http.Error(w, "Unauthorized: missing user context", http.StatusUnauthorized)
		return
	}

	var req castVotesRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	if len(req.Votes) > maxBatchVotes {
		http.Error(w, fmt.Sprintf("batch exceeds %d votes", maxBatchVotes), http.StatusRequestEntityTooLarge)
		return
	}

	voter, err := resolveVoter(principal, req.Voter)
	if err != nil {
		http.Error(w, "Forbidden: "+err.Error(), http.StatusForbidden)
		return
	}

	payloads := make([][]byte, len(req.Votes))
	for i, v := range req.Votes {
		b, err := hexutil.Decode(v)
		if err != nil {
			http.Error(w, fmt.Sprintf("vote %d: %v", i, err), http.StatusBadRequest)
			return
		}
		payloads[i] = b
	}

	err = h.service.CastVotes(r.Context(), ports.CastVotesInput{
		RoundID:  chi.URLParam(r, "id"),
		Voter:    voter,
		Payloads: payloads,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusCreated)
}

func (h *VoteHandler) CreditBalance(w http.ResponseWriter, r *http.Request) {
	addr, err := domain.ParseAddress(chi.URLParam(r, "address"))
	if err != nil {
		writeError(w, err)
		return
	}
	balance, err := h.service.CreditBalance(r.Context(), chi.URLParam(r, "id"), addr.Hex())
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, balanceResponse{
		Voter:         addr.Hex(),
		CreditBalance: balance,
	})
}

// resolveVoter lets admins vote on behalf of any voter, while voters may only
// spend their own credits.
func resolveVoter(principal *domain.Principal, requested string) (string, error) {
	switch principal.Role {
	case domain.RoleAdmin:
		if requested == "" {
			return "", errors.New("admin must name the voter")
		}
		return requested, nil
	case domain.RoleVoter:
		if requested == "" {
			return principal.Subject, nil
		}
		own, err := domain.ParseAddress(principal.Subject)
		if err != nil {
			return "", errors.New("token subject is not an address")
		}
		other, err := domain.ParseAddress(requested)
		if err != nil || other != own {
			return "", errors.New("cannot vote for another voter")
		}
		return requested, nil
	default:
		return "", fmt.Errorf("unknown role %q", principal.Role)
	}
}
