package http

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/vncsmyrnk/qvote/internal/core/domain"
	"github.com/vncsmyrnk/qvote/internal/core/ports"
)

func NewHandler(roundHandler *RoundHandler, voteHandler *VoteHandler, tallyHandler *TallyHandler, tokens ports.TokenService) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestSize(maxBodyBytes))

	r.Route("/api", func(r chi.Router) {
		r.Get("/", func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte("welcome"))
		})

		r.Route("/rounds", func(r chi.Router) {
			r.Get("/", roundHandler.ListRounds)
			r.With(Authenticate(tokens), RequireRole(domain.RoleAdmin)).Post("/", roundHandler.CreateRound)

			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", roundHandler.GetRound)
				r.Get("/voters/{address}/balance", voteHandler.CreditBalance)
				r.Get("/tally", tallyHandler.FinalTally)

				r.Group(func(r chi.Router) {
					r.Use(Authenticate(tokens))
					r.Post("/votes", voteHandler.CastVotes)

					r.Group(func(r chi.Router) {
						r.Use(RequireRole(domain.RoleAdmin))
						r.Post("/voters", voteHandler.RegisterVoter)
						r.Post("/tally", tallyHandler.Tally)
						r.Post("/close", roundHandler.CloseRound)
					})
				})
			})
		})
	})

	return r
}
