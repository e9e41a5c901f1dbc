package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"genqueue/internal/http/handlers"
	"genqueue/internal/middleware"
)

type Options struct {
	Logger         zerolog.Logger
	AllowedOrigins []string
	// SubmitGate guards the endpoints that create jobs. Nil disables it.
	SubmitGate *middleware.Gate
	// Metrics is served at /metrics when set.
	Metrics prometheus.Gatherer
}

func NewRouter(app *handlers.App, opts Options) http.Handler {
	r := chi.NewRouter()

	r.Use(
		middleware.RequestID,
		chimw.RealIP,
		chimw.Recoverer,
		middleware.Logger(opts.Logger),
	)
	if len(opts.AllowedOrigins) > 0 {
		r.Use(middleware.CORS(opts.AllowedOrigins))
	}

	r.Get("/v1/healthz", app.Health)
	if opts.Metrics != nil {
		r.Handle("/metrics", promhttp.HandlerFor(opts.Metrics, promhttp.HandlerOpts{}))
	}

	gated := func(h http.HandlerFunc) http.Handler {
		if opts.SubmitGate == nil {
			return h
		}
		return opts.SubmitGate.Middleware(h)
	}

	r.Route("/v1/jobs", func(r chi.Router) {
		r.Method(http.MethodPost, "/", gated(app.CreateJob))
		r.Get("/", app.ListJobs)
		r.Post("/clear", app.ClearJobs)
		r.Get("/{id}", app.GetJob)
		r.Delete("/{id}", app.DeleteJob)
		r.Method(http.MethodPost, "/{id}/retry", gated(app.RetryJob))
	})
	r.Get("/v1/balance", app.GetBalance)
	r.Route("/v1/history", func(r chi.Router) {
		r.Get("/", app.ListHistory)
		r.Get("/{id}", app.GetHistory)
	})

	return r
}
