package server

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/coreos/go-oidc/v3/oidc"
	"golang.org/x/oauth2"

	"authflowd/flow"
)

// OIDCProvider adapts a discovered upstream identity provider to the flow
// orchestrator's resolver interface.
type OIDCProvider struct {
	name        string
	oauthConfig *oauth2.Config
	verifier    *oidc.IDTokenVerifier
	logger      *slog.Logger
}

// NewOIDCProvider initializes the provider via discovery.
func NewOIDCProvider(ctx context.Context, name string, upstream ProviderConfig, logger *slog.Logger) (*OIDCProvider, error) {
	if upstream.Issuer == "" {
		return nil, fmt.Errorf("issuer required for provider %s", name)
	}

	op, err := oidc.NewProvider(ctx, upstream.Issuer)
	if err != nil {
		return nil, fmt.Errorf("discover provider %s: %w", name, err)
	}

	endpoint := op.Endpoint()
	if upstream.ClientSecret == "" {
		endpoint.AuthStyle = oauth2.AuthStyleInParams
	}

	scopes := upstream.Scopes
	if len(scopes) == 0 {
		scopes = []string{oidc.ScopeOpenID, "profile", "email"}
	}

	oauthCfg := &oauth2.Config{
		ClientID:     upstream.ClientID,
		ClientSecret: upstream.ClientSecret,
		Endpoint:     endpoint,
		Scopes:       scopes,
	}

	verifier := op.Verifier(&oidc.Config{ClientID: upstream.ClientID})

	return &OIDCProvider{
		name:        name,
		oauthConfig: oauthCfg,
		verifier:    verifier,
		logger:      logger,
	}, nil
}

// AuthCodeURL constructs the authorization request for upstream. The scope
// and redirect URI come from the flow, not the static provider config, so
// the shared config is cloned per call.
func (p *OIDCProvider) AuthCodeURL(state string, req flow.UpstreamRequest) string {
	cfg := *p.oauthConfig
	cfg.RedirectURL = req.RedirectURI
	if req.Scope != "" {
		cfg.Scopes = flow.SplitTokens(req.Scope)
	}

	opts := []oauth2.AuthCodeOption{}
	if req.Nonce != "" {
		opts = append(opts, oauth2.SetAuthURLParam("nonce", req.Nonce))
	}
	return cfg.AuthCodeURL(state, opts...)
}

// ResolveProfile completes the code exchange and returns the verified
// federated profile. redirectURI must match the URI used to obtain the code.
func (p *OIDCProvider) ResolveProfile(ctx context.Context, code, redirectURI string) (*flow.FIPUser, error) {
	cfg := *p.oauthConfig
	cfg.RedirectURL = redirectURI

	tok, err := cfg.Exchange(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("exchange code: %w", err)
	}

	rawIDToken, ok := tok.Extra("id_token").(string)
	if !ok || rawIDToken == "" {
		return nil, fmt.Errorf("id_token missing in response")
	}

	idToken, err := p.verifier.Verify(ctx, rawIDToken)
	if err != nil {
		return nil, fmt.Errorf("verify id_token: %w", err)
	}

	var claims map[string]any
	if err := idToken.Claims(&claims); err != nil {
		return nil, fmt.Errorf("parse claims: %w", err)
	}

	p.logger.Debug("resolved federated profile", "provider", p.name, "subject", idToken.Subject)
	return &flow.FIPUser{
		ID:         idToken.Subject,
		Attributes: claims,
	}, nil
}

// BuildProviders prepares all configured upstream providers.
func BuildProviders(ctx context.Context, cfg Config, logger *slog.Logger) (map[string]flow.ProfileResolver, error) {
	providers := make(map[string]flow.ProfileResolver)

	for name, upstream := range cfg.Providers {
		prov, err := NewOIDCProvider(ctx, name, upstream, logger)
		if err != nil {
			if cfg.Server.DevMode {
				logger.Warn("provider init failed", "provider", name, "error", err)
				continue
			}
			return nil, err
		}
		providers[name] = prov
	}

	return providers, nil
}

// CallbackURL derives the provider callback under the configured public URL.
func CallbackURL(publicURL, strategy string) string {
	return callbackBase(publicURL) + "/callback/" + strategy
}

func callbackBase(publicURL string) string {
	return strings.TrimSuffix(publicURL, "/")
}
