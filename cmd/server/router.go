package main

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/phrazzld/lottery-keeper/internal/api"
	apiMiddleware "github.com/phrazzld/lottery-keeper/internal/api/middleware"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// setupRouter creates the application router with all routes and middleware.
func (app *application) setupRouter() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(apiMiddleware.NewTraceMiddleware(app.logger))

	authMiddleware := apiMiddleware.NewAuthMiddleware(app.jwtService)
	taskHandler := api.NewTaskHandler(app.service, app.logger)
	cronHandler := api.NewCronHandler(app.service, app.logger)

	r.Route("/api", func(r chi.Router) {
		// Status and enqueue are public; the operator flags on GET are
		// checked by the handler against the identified operator.
		r.Group(func(r chi.Router) {
			r.Use(authMiddleware.Identify)
			r.Post("/task", taskHandler.EnqueueTask)
			r.Get("/task", taskHandler.GetTask)
		})

		r.With(apiMiddleware.RequireSecret(app.cronVerifier)).Get("/cron", cronHandler.SweepEndedLotteries)
	})

	r.Method(http.MethodGet, "/health", api.NewHealthHandler(app.pinger, app.scheduler))

	if app.config.Telemetry.Enabled {
		return otelhttp.NewHandler(r, "lottery-keeper",
			otelhttp.WithSpanNameFormatter(func(_ string, r *http.Request) string {
				return r.Method + " " + r.URL.Path
			}))
	}
	return r
}
