package server

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/url"

	"github.com/go-chi/chi/v5"

	"authflowd/flow"
)

// App bundles runtime dependencies for the HTTP service.
type App struct {
	Config    Config
	Logger    *slog.Logger
	Store     *Store
	JWKS      *JWKSManager
	Backend   *Backend
	Flow      *flow.Service
	Providers map[string]flow.ProfileResolver
}

// NewApp wires together the application state from configuration.
func NewApp(ctx context.Context, cfg Config, logger *slog.Logger) (*App, error) {
	store := NewStore(cfg.Clients, cfg.CodeTTL())

	jwks, err := NewJWKSManager(cfg.Server.SecretsPath, logger)
	if err != nil {
		return nil, err
	}

	backend := NewBackend(cfg, store, jwks, logger)

	providers, err := BuildProviders(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}

	return &App{
		Config:    cfg,
		Logger:    logger,
		Store:     store,
		JWKS:      jwks,
		Backend:   backend,
		Flow:      flow.NewService(backend.Handlers(), providers, logger),
		Providers: providers,
	}, nil
}

func (a *App) handleDiscovery(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, BuildDiscoveryDocument(a.Config))
}

func (a *App) handleJWKS(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, a.JWKS.PublicJWKS())
}

func (a *App) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]string{"status": "ok"})
}

// handleAuthorize starts a flow. Without an idp parameter the request goes
// through the local consent flow; with one it is forwarded to the named
// federated provider.
func (a *App) handleAuthorize(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	req := flow.AuthorizationRequest{
		ClientID:            q.Get("client_id"),
		ResponseType:        q.Get("response_type"),
		RedirectURI:         q.Get("redirect_uri"),
		Scope:               q.Get("scope"),
		State:               q.Get("state"),
		CodeChallenge:       q.Get("code_challenge"),
		CodeChallengeMethod: q.Get("code_challenge_method"),
		Nonce:               q.Get("nonce"),
	}

	var (
		redirect string
		err      error
	)
	if idp := q.Get("idp"); idp != "" {
		redirect, err = a.Flow.BeginFederated(r.Context(), idp, req, a.callbackURL(r, idp), true)
	} else {
		redirect, err = a.Flow.Authorize(r.Context(), req)
	}
	if err != nil {
		a.writeFlowError(w, r, err)
		return
	}
	http.Redirect(w, r, redirect, http.StatusFound)
}

// handleConsentApprove is the built-in consent page's approval action. It
// mints a signed consent token for the named user and bounces back through
// the standard consent callback.
func (a *App) handleConsentApprove(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		a.writeFlowError(w, r, flow.ErrInvalidRequest("invalid form"))
		return
	}
	code := r.FormValue("code")
	username := r.FormValue("username")
	if code == "" || username == "" {
		a.writeFlowError(w, r, flow.ErrInvalidRequest("code and username are required"))
		return
	}

	user := a.Store.UserByUsername(username)
	if user == nil {
		a.writeFlowError(w, r, flow.ErrInvalidRequest("unknown user %s", username))
		return
	}

	token, err := a.Backend.MintConsentToken(user.ID, user.Username, code)
	if err != nil {
		a.writeFlowError(w, r, flow.Wrap("could not mint consent token", err))
		return
	}

	callback := callbackBase(a.Config.Server.PublicURL) + "/consent/callback?consent_token=" + url.QueryEscape(token)
	http.Redirect(w, r, callback, http.StatusSeeOther)
}

// handleConsentCallback finishes the local flow after the consent page
// redirects back with the consent token.
func (a *App) handleConsentCallback(w http.ResponseWriter, r *http.Request) {
	token := r.URL.Query().Get("consent_token")
	redirect, err := a.Flow.CompleteConsent(r.Context(), token)
	if err != nil {
		a.writeFlowError(w, r, err)
		return
	}
	http.Redirect(w, r, redirect, http.StatusFound)
}

// handleCallback finishes a federated flow. Upstream errors are passed back
// to the client when the encoded state still yields a redirect target.
func (a *App) handleCallback(w http.ResponseWriter, r *http.Request) {
	strategy := chi.URLParam(r, "idp")
	q := r.URL.Query()

	if upstreamErr := q.Get("error"); upstreamErr != "" {
		a.Logger.Warn("federated provider returned error",
			"provider", strategy,
			"error", upstreamErr,
			"description", q.Get("error_description"),
		)
		if target, ok := clientRedirectFromState(q.Get("state"), upstreamErr, q.Get("error_description")); ok {
			http.Redirect(w, r, target, http.StatusFound)
			return
		}
		a.writeFlowError(w, r, flow.ErrInvalidRequest("provider returned %s", upstreamErr))
		return
	}

	redirect, err := a.Flow.CompleteFederated(r.Context(), strategy, q.Get("code"), q.Get("state"), true)
	if err != nil {
		a.writeFlowError(w, r, err)
		return
	}
	http.Redirect(w, r, redirect, http.StatusFound)
}

// callbackURL derives the provider callback for this request. Behind a
// trusted proxy the forwarded host wins over the configured public URL.
func (a *App) callbackURL(r *http.Request, strategy string) string {
	if a.Config.Server.TrustProxyHeaders {
		scheme := r.Header.Get("X-Forwarded-Proto")
		if scheme == "" {
			if r.TLS != nil {
				scheme = "https"
			} else {
				scheme = "http"
			}
		}
		host := r.Header.Get("X-Forwarded-Host")
		if host == "" {
			host = r.Host
		}
		return flow.ExternalCallbackURL(scheme, host, "/callback/"+strategy)
	}
	return CallbackURL(a.Config.Server.PublicURL, strategy)
}

func (a *App) writeFlowError(w http.ResponseWriter, r *http.Request, err error) {
	e := flow.AsError(err)
	if e.Status >= http.StatusInternalServerError {
		a.Logger.Error("flow failed", "request_id", RequestIDFromContext(r.Context()), "error", err)
	} else {
		a.Logger.Warn("flow rejected", "request_id", RequestIDFromContext(r.Context()), "error", err)
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(e.Status)
	_ = json.NewEncoder(w).Encode(e)
}

// clientRedirectFromState recovers the client redirect target from encoded
// state so upstream errors can be relayed instead of dead-ending here.
func clientRedirectFromState(rawState, code, description string) (string, bool) {
	if rawState == "" {
		return "", false
	}
	state, err := flow.DecodeState(rawState)
	if err != nil {
		return "", false
	}
	redirectURI, _ := state["redirect_uri"].(string)
	if redirectURI == "" {
		return "", false
	}
	target, err := url.Parse(redirectURI)
	if err != nil {
		return "", false
	}

	q := target.Query()
	q.Set("error", code)
	if description != "" {
		q.Set("error_description", description)
	}
	if clientState, _ := state["state"].(string); clientState != "" {
		q.Set("state", clientState)
	}
	target.RawQuery = q.Encode()
	return target.String(), true
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}
