package flow

import (
	"context"
	"net/url"
)

// ValidatedRequest is the outcome of full authorization request validation.
// Client is nil when validation ran without a client_id requirement.
type ValidatedRequest struct {
	Client        *Client
	ResponseTypes ResponseTypeSet
	Scopes        []string
	ConsentPage   *url.URL
}

// ValidateOptions tunes validation for flow variants. Client-less federated
// login/signup flows disable the client_id requirement.
type ValidateOptions struct {
	RequireClientID bool
}

const validationFailed = "authorization request validation failed"

// ValidateAuthorizationRequest validates an inbound request end to end and
// resolves the consent page target. Every failure mode is distinct and
// wrapped under one stable top-level message so upstream context survives.
func (s *Service) ValidateAuthorizationRequest(ctx context.Context, req AuthorizationRequest, opts ValidateOptions) (*ValidatedRequest, error) {
	if err := s.handlers.require(eventGetClient, eventGetConfig); err != nil {
		return nil, err
	}

	validated, err := s.validateAuthorizationRequest(ctx, req, opts)
	if err != nil {
		return nil, Wrap(validationFailed, err)
	}
	return validated, nil
}

func (s *Service) validateAuthorizationRequest(ctx context.Context, req AuthorizationRequest, opts ValidateOptions) (*ValidatedRequest, error) {
	if opts.RequireClientID && req.ClientID == "" {
		return nil, ErrInvalidRequest("client_id is required")
	}
	if req.ResponseType == "" {
		return nil, ErrInvalidRequest("response_type is required")
	}
	if req.RedirectURI == "" {
		return nil, ErrInvalidRequest("redirect_uri is required")
	}

	responseTypes, err := ParseResponseType(req.ResponseType)
	if err != nil {
		return nil, err
	}

	redirect, err := url.Parse(req.RedirectURI)
	if err != nil || !redirect.IsAbs() {
		return nil, ErrInvalidRequest("redirect_uri %q is not a valid URL", req.RedirectURI)
	}

	if err := ValidateCodeChallenge(req.CodeChallenge, req.CodeChallengeMethod); err != nil {
		return nil, err
	}

	scopes := SplitTokens(req.Scope)

	var client *Client
	if req.ClientID != "" {
		client, err = s.lookupClient(ctx, req.ClientID)
		if err != nil {
			return nil, err
		}
		if !client.AllowsRedirect(req.RedirectURI) {
			return nil, ErrInvalidRequest("redirect_uri %s is not registered for client %s", req.RedirectURI, req.ClientID)
		}
		if err := VerifyScopeContainment(scopes, client.Scopes); err != nil {
			return nil, err
		}
	}

	consentPage, err := s.consentPage(ctx)
	if err != nil {
		return nil, err
	}

	return &ValidatedRequest{
		Client:        client,
		ResponseTypes: responseTypes,
		Scopes:        scopes,
		ConsentPage:   consentPage,
	}, nil
}

func (s *Service) lookupClient(ctx context.Context, clientID string) (*Client, error) {
	client, err := s.handlers.GetClient(ctx, clientID)
	if err != nil {
		return nil, Wrap("client lookup failed", err)
	}
	if client == nil {
		return nil, ErrInvalidClient("unknown client %s", clientID)
	}
	return client, nil
}

func (s *Service) consentPage(ctx context.Context) (*url.URL, error) {
	cfg, err := s.handlers.GetConfig(ctx)
	if err != nil {
		return nil, Wrap("server configuration lookup failed", err)
	}
	if cfg == nil || cfg.ConsentPage == "" {
		return nil, ErrServerError("consent page is not configured")
	}
	page, err := url.Parse(cfg.ConsentPage)
	if err != nil || !page.IsAbs() {
		return nil, ErrServerError("consent page URL %q is invalid", cfg.ConsentPage)
	}
	return page, nil
}
