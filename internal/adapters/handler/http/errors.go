package http

import (
	"errors"
	"net/http"

	"github.com/vncsmyrnk/qvote/internal/core/domain"
)

var errorStatus = []struct {
	err    error
	status int
}{
	{domain.ErrConfig, http.StatusBadRequest},
	{domain.ErrInvalidVote, http.StatusBadRequest},
	{domain.ErrInvalidAddress, http.StatusBadRequest},
	{domain.ErrInvalidRoundID, http.StatusBadRequest},
	{domain.ErrNotRegistered, http.StatusForbidden},
	{domain.ErrRoundNotFound, http.StatusNotFound},
	{domain.ErrAlreadyRegistered, http.StatusConflict},
	{domain.ErrNotTallied, http.StatusConflict},
	{domain.ErrRoundClosed, http.StatusConflict},
	{domain.ErrInsufficientCredits, http.StatusUnprocessableEntity},
}

func writeError(w http.ResponseWriter, err error) {
	for _, e := range errorStatus {
		if errors.Is(err, e.err) {
			http.Error(w, err.Error(), e.status)
			return
		}
	}
	http.Error(w, domain.ErrInternal.Error(), http.StatusInternalServerError)
}
