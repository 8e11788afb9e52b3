package flow

import (
	"context"
	"strings"
)

// State fields round-tripped through the federated provider. The names are
// part of the encoded-state wire format and must stay stable across
// deployments completing each other's flows.
const (
	stateClientID            = "client_id"
	stateResponseType        = "response_type"
	stateRedirectURI         = "redirect_uri"
	stateScope               = "scope"
	stateState               = "state"
	stateNonce               = "nonce"
	stateCodeChallenge       = "code_challenge"
	stateCodeChallengeMethod = "code_challenge_method"
	stateOrigRedirectURI     = "orig_redirectUri"
)

// BeginFederated runs the request side of the federated flow: carry the
// original request across the provider hop as encoded state, validate the
// request, and build the upstream authorization redirect. callbackURL is
// this server's callback for the strategy and becomes the redirect_uri sent
// upstream. verifyClientID disables the client_id requirement for
// client-less login/signup flows.
func (s *Service) BeginFederated(ctx context.Context, strategy string, req AuthorizationRequest, callbackURL string, verifyClientID bool) (string, error) {
	if err := s.handlers.require(eventGetClient, eventGetConfig); err != nil {
		return "", err
	}
	resolver, ok := s.resolver(strategy)
	if !ok {
		return "", ErrInvalidRequest("unknown provider %q", strategy)
	}
	if callbackURL == "" {
		return "", ErrServerError("callback URL could not be determined")
	}

	if _, err := s.ValidateAuthorizationRequest(ctx, req, ValidateOptions{RequireClientID: verifyClientID}); err != nil {
		return "", err
	}

	state, err := EncodeState(map[string]any{
		stateClientID:            req.ClientID,
		stateResponseType:        req.ResponseType,
		stateRedirectURI:         req.RedirectURI,
		stateScope:               req.Scope,
		stateState:               req.State,
		stateNonce:               req.Nonce,
		stateCodeChallenge:       req.CodeChallenge,
		stateCodeChallengeMethod: req.CodeChallengeMethod,
		stateOrigRedirectURI:     callbackURL,
	})
	if err != nil {
		return "", err
	}

	// The provider always gets openid so an id_token comes back with the
	// code exchange, whether or not the client asked for one.
	upstreamScope := JoinTokens(dedupeScopes(SplitTokens(req.Scope), ScopeOpenID))

	s.logger.Debug("redirecting to federated provider",
		"provider", strategy,
		"client_id", req.ClientID,
	)
	return resolver.AuthCodeURL(state, UpstreamRequest{
		Scope:       upstreamScope,
		RedirectURI: callbackURL,
		Nonce:       req.Nonce,
	}), nil
}

// CompleteFederated handles the provider callback: decode and check the
// state, resolve the external profile bound to the original callback URI,
// run the shared FIP user processing, and build the final client redirect.
func (s *Service) CompleteFederated(ctx context.Context, strategy, code, rawState string, verifyClientID bool) (string, error) {
	if rawState == "" {
		return "", ErrInvalidRequest("state is required")
	}
	state, err := DecodeState(rawState)
	if err != nil {
		return "", err
	}

	redirectURI := stateString(state, stateRedirectURI)
	if redirectURI == "" {
		return "", ErrInvalidRequest("state is missing redirect_uri")
	}
	responseType := stateString(state, stateResponseType)
	if responseType == "" {
		return "", ErrInvalidRequest("state is missing response_type")
	}
	origRedirectURI := stateString(state, stateOrigRedirectURI)
	if origRedirectURI == "" {
		return "", ErrInvalidRequest("state is missing orig_redirectUri")
	}

	resolver, ok := s.resolver(strategy)
	if !ok {
		return "", ErrInvalidRequest("unknown provider %q", strategy)
	}

	responseTypes, err := ParseResponseType(responseType)
	if err != nil {
		return "", err
	}
	// The code exchange consumes the provider's one-time authorization code,
	// so every handler the rest of the flow needs must exist before it runs.
	required := append([]string{eventGetFIPUser}, generatorEvents(responseTypes)...)
	if verifyClientID {
		required = append(required, eventGetClient)
	}
	if err := s.handlers.require(required...); err != nil {
		return "", err
	}

	// The exchange must reuse the exact redirect URI that obtained the
	// authorization code, or the provider rejects it.
	user, err := resolver.ResolveProfile(ctx, code, origRedirectURI)
	if err != nil {
		return "", Wrap("could not resolve federated profile", err)
	}

	clientID := stateString(state, stateClientID)
	clientState := stateString(state, stateState)
	scopes := SplitTokens(stateString(state, stateScope))

	bundle, err := s.ProcessFIPUser(ctx, user, ProcessFIPUserParams{
		Strategy:       strategy,
		ClientID:       clientID,
		ResponseType:   responseType,
		Scopes:         scopes,
		State:          clientState,
		VerifyClientID: verifyClientID,
		TokenExtras: TokenRequest{
			RedirectURI:         redirectURI,
			CodeChallenge:       stateString(state, stateCodeChallenge),
			CodeChallengeMethod: stateString(state, stateCodeChallengeMethod),
			Nonce:               stateString(state, stateNonce),
		},
	})
	if err != nil {
		return "", err
	}

	redirect, err := BuildRedirectURI(redirectURI, bundle, clientState)
	if err != nil {
		return "", Wrap("could not build final redirect", err)
	}

	s.logger.Debug("federated flow completed",
		"provider", strategy,
		"client_id", clientID,
	)
	return redirect, nil
}

// ProcessFIPUserParams parameterizes the shared federated user processing.
type ProcessFIPUserParams struct {
	Strategy       string
	ClientID       string
	ResponseType   string
	Scopes         []string
	State          string
	VerifyClientID bool
	TokenExtras    TokenRequest
}

// ProcessFIPUser validates a federated profile, resolves the backend user,
// optionally enforces client scope/audience/linkage, and dispatches token
// issuance. Shared between the standard federated flow and client-less
// login/signup variants.
func (s *Service) ProcessFIPUser(ctx context.Context, user *FIPUser, p ProcessFIPUserParams) (*TokenBundle, error) {
	if err := s.handlers.require(eventGetFIPUser); err != nil {
		return nil, err
	}
	if user == nil || user.ID == "" {
		return nil, ErrInvalidRequest("federated user profile is missing an id")
	}
	if p.Strategy == "" {
		return nil, ErrInvalidRequest("strategy is required")
	}

	responseTypes, err := ParseResponseType(p.ResponseType)
	if err != nil {
		return nil, err
	}

	var audiences []string
	if p.VerifyClientID {
		if err := s.handlers.require(eventGetClient); err != nil {
			return nil, err
		}
		client, err := s.lookupClient(ctx, p.ClientID)
		if err != nil {
			return nil, err
		}
		if err := VerifyScopeContainment(p.Scopes, client.Scopes); err != nil {
			return nil, err
		}
		if len(p.TokenExtras.Audiences) > 0 {
			if err := VerifyAudienceContainment(p.TokenExtras.Audiences, client.Audiences); err != nil {
				return nil, err
			}
			audiences = p.TokenExtras.Audiences
		} else {
			audiences = client.Audiences
		}
	}

	validated, err := s.handlers.GetFIPUser(ctx, FIPUserLookup{
		ClientID: p.ClientID,
		Strategy: strings.TrimSpace(p.Strategy),
		User:     *user,
		State:    p.State,
	})
	if err != nil {
		return nil, Wrap("could not resolve backend user for federated profile", err)
	}
	if validated == nil || validated.ID == "" {
		return nil, ErrServerError("backend returned no user for federated profile %s", user.ID)
	}

	if p.VerifyClientID {
		if err := VerifyClientLinkage(p.ClientID, validated.ID, validated.ClientIDs); err != nil {
			return nil, err
		}
	}

	req := p.TokenExtras
	req.ClientID = p.ClientID
	req.UserID = validated.ID
	req.Audiences = audiences
	req.Scopes = p.Scopes
	req.State = p.State

	return s.DispatchTokens(ctx, responseTypes, p.Scopes, req)
}

// ExternalCallbackURL derives the absolute callback URL a federated provider
// should redirect back to. Plain http is upgraded to https except for local
// hosts, which providers typically allow for development.
func ExternalCallbackURL(scheme, host, path string) string {
	if scheme == "" {
		scheme = "http"
	}
	if scheme == "http" && !isLocalHost(host) {
		scheme = "https"
	}
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	return scheme + "://" + host + path
}

func isLocalHost(host string) bool {
	return strings.HasPrefix(host, "localhost") ||
		strings.HasPrefix(host, "127.0.0.1") ||
		strings.HasPrefix(host, "[::1]")
}
