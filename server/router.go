package server

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// Routes constructs the HTTP router with all flow endpoints.
func (a *App) Routes() http.Handler {
	r := chi.NewRouter()

	r.Use(RequestIDMiddleware)
	r.Use(LoggingMiddleware(a.Logger))
	r.Use(RecoveryMiddleware(a.Logger))

	r.Get("/.well-known/openid-configuration", a.handleDiscovery)
	r.Get("/.well-known/jwks.json", a.handleJWKS)
	r.Get("/jwks.json", a.handleJWKS)
	r.Get("/healthz", a.handleHealth)

	r.Get("/authorize", a.handleAuthorize)
	r.Post("/consent/approve", a.handleConsentApprove)
	r.Get("/consent/callback", a.handleConsentCallback)
	r.Get("/callback/{idp}", a.handleCallback)

	return r
}
