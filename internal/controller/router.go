package controller

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"github.com/unclebandit/dispatch-engine/internal/service"
)

// NewRouter mounts the producer API. Extra handlers (health checks) are
// mounted by the caller on the returned router.
func NewRouter(svc *service.DispatchService, log zerolog.Logger) chi.Router {
	campaigns := &CampaignController{Service: svc}
	dispatch := &DispatchController{Service: svc}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger(log))
	r.Use(middleware.Recoverer)

	r.Route("/scheduled-sends", func(r chi.Router) {
		r.Post("/", dispatch.CreateScheduledSend)
		r.Get("/", dispatch.ListScheduledSends)
		r.Post("/{id}/cancel", dispatch.CancelScheduledSend)
	})

	// Campaign routes
	r.Route("/campaigns", func(r chi.Router) {
		r.Post("/", campaigns.CreateCampaign)
		r.Get("/", campaigns.ListCampaigns)
		r.Get("/{id}", campaigns.GetCampaignDetails)
		r.Delete("/{id}", campaigns.DeleteCampaign)
		r.Post("/{id}/contacts", campaigns.AddContacts)
		r.Post("/{id}/start", campaigns.StartCampaign)
		r.Post("/{id}/pause", campaigns.PauseCampaign)
		r.Post("/{id}/resume", campaigns.ResumeCampaign)
		r.Post("/{id}/personalized-preview", campaigns.PersonalizedPreview)
	})

	r.Post("/status-posts", dispatch.CreateStatusPost)
	r.Post("/status-posts/{id}/cancel", dispatch.CancelStatusPost)
	r.Post("/templates/validate", dispatch.ValidateTemplate)
	r.Post("/messages/send", dispatch.SendMessage)
	r.Get("/history", dispatch.ListHistory)

	return r
}

// requestLogger attaches a request-scoped logger to the context and writes
// one access line per request.
func requestLogger(log zerolog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			l := log.With().
				Str("request_id", middleware.GetReqID(r.Context())).
				Str("owner", ownerID(r)).
				Logger()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

			next.ServeHTTP(ww, r.WithContext(l.WithContext(r.Context())))

			l.Info().
				Str("method", r.Method).
				Str("path", r.URL.Path).
				Int("status", ww.Status()).
				Int("bytes", ww.BytesWritten()).
				Dur("took", time.Since(start)).
				Msg("http request")
		})
	}
}
