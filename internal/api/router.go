package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
)

func Router(h *Handler) http.Handler {
	r := chi.NewRouter()

	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)

	r.Get("/health", h.Health)

	r.Get("/bots", h.ListBots)
	r.Post("/bot", h.CreateBot)

	r.Route("/bot/{id}", func(r chi.Router) {
		r.Put("/", h.RenameBot)
		r.Delete("/", h.DeleteBot)

		r.Get("/qr", h.GetQR)
		r.Post("/qr/refresh", h.RefreshQR)

		r.Get("/status", h.GetStatus)
		r.Put("/status", h.PutStatus)

		r.Get("/groups", h.ListJoinedGroups)
		r.Post("/send-message", h.SendMessage)
		r.Post("/send-to-groups", h.SendToGroups)

		if h.groups != nil {
			r.Get("/distribution-groups", h.ListDistributionGroups)
			r.Post("/distribution-groups", h.AddDistributionGroup)
			r.Delete("/distribution-groups/{groupRowID}", h.DeleteDistributionGroup)
		}
	})

	r.Get("/", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("whatsapp-relay"))
	})

	return r
}
