package flow

import (
	"context"
	"slices"
)

const consentCodeParam = "code"

// Authorize runs the request side of the local consent flow: validate the
// inbound request, mint an opaque auth request code binding the full
// parameter set, and return the consent page redirect carrying that code.
func (s *Service) Authorize(ctx context.Context, req AuthorizationRequest) (string, error) {
	if err := s.handlers.require(eventGetClient, eventGetConfig, eventGenerateAuthRequestCode); err != nil {
		return "", err
	}

	validated, err := s.ValidateAuthorizationRequest(ctx, req, ValidateOptions{RequireClientID: true})
	if err != nil {
		return "", err
	}

	claims := AuthRequestClaims{
		ClientID:            req.ClientID,
		ResponseType:        req.ResponseType,
		RedirectURI:         req.RedirectURI,
		Scope:               req.Scope,
		State:               req.State,
		CodeChallenge:       req.CodeChallenge,
		CodeChallengeMethod: req.CodeChallengeMethod,
		Nonce:               req.Nonce,
		Exp:                 s.now().Add(AuthRequestTTL).Unix(),
	}
	code, err := s.handlers.GenerateAuthRequestCode(ctx, claims)
	if err != nil {
		return "", Wrap("could not issue auth request code", err)
	}
	if code == "" {
		return "", ErrServerError("backend returned an empty auth request code")
	}

	consent := *validated.ConsentPage
	q := consent.Query()
	q.Set(consentCodeParam, code)
	consent.RawQuery = q.Encode()

	s.logger.Debug("auth request code issued",
		"client_id", req.ClientID,
		"response_type", validated.ResponseTypes.String(),
	)
	return consent.String(), nil
}

// CompleteConsent finishes the local flow once the consent page calls back
// with a consent code. It exchanges the code for consent claims, replays
// validation of the original request, links the user to the client, verifies
// the link took effect, dispatches token issuance, and builds the final
// redirect. Any failure aborts the flow; no partial redirect is issued.
func (s *Service) CompleteConsent(ctx context.Context, consentToken string) (string, error) {
	if err := s.handlers.require(
		eventGetAuthConsentClaims,
		eventGetAuthRequestClaims,
		eventGetClient,
		eventGetConfig,
		eventLinkClientToUser,
		eventGetEndUser,
	); err != nil {
		return "", err
	}
	if consentToken == "" {
		return "", ErrInvalidRequest("consent code is required")
	}

	consent, err := s.exchangeConsentToken(ctx, consentToken)
	if err != nil {
		return "", err
	}

	original, err := s.handlers.GetAuthRequestClaims(ctx, consent.Code)
	if err != nil {
		return "", Wrap("could not exchange auth request code", err)
	}
	if original == nil {
		return "", ErrInvalidRequest("unknown auth request code")
	}
	req := original.Request()

	validated, err := s.ValidateAuthorizationRequest(ctx, req, ValidateOptions{RequireClientID: true})
	if err != nil {
		return "", err
	}

	if err := s.handlers.LinkClientToUser(ctx, consent.UserID, req.ClientID, validated.Scopes, req.State); err != nil {
		return "", Wrap("could not link client to user", err)
	}

	// Re-read the user to confirm the link actually landed. A missing link
	// here means the backend write failed silently.
	user, err := s.handlers.GetEndUser(ctx, consent.Username)
	if err != nil {
		return "", Wrap("could not fetch user after linking", err)
	}
	if user == nil || user.ID != consent.UserID {
		return "", ErrServerError("user %s did not resolve to the consenting user", consent.Username)
	}
	if !slices.Contains(user.ClientIDs, req.ClientID) {
		return "", ErrServerError("client %s not linked to user %s after consent", req.ClientID, user.ID)
	}

	bundle, err := s.DispatchTokens(ctx, validated.ResponseTypes, validated.Scopes, TokenRequest{
		ClientID:            req.ClientID,
		UserID:              user.ID,
		Audiences:           validated.Client.Audiences,
		Scopes:              validated.Scopes,
		RedirectURI:         req.RedirectURI,
		CodeChallenge:       req.CodeChallenge,
		CodeChallengeMethod: req.CodeChallengeMethod,
		Nonce:               req.Nonce,
		State:               req.State,
	})
	if err != nil {
		return "", err
	}

	redirect, err := BuildRedirectURI(req.RedirectURI, bundle, req.State)
	if err != nil {
		return "", Wrap("could not build final redirect", err)
	}

	s.logger.Debug("local consent flow completed",
		"client_id", req.ClientID,
		"user_id", user.ID,
	)
	return redirect, nil
}

func (s *Service) exchangeConsentToken(ctx context.Context, token string) (*ConsentClaims, error) {
	consent, err := s.handlers.GetAuthConsentClaims(ctx, token)
	if err != nil {
		return nil, Wrap("could not exchange consent code", err)
	}
	if consent == nil {
		return nil, ErrInvalidRequest("consent claims missing")
	}
	if consent.UserID == "" {
		return nil, ErrInvalidRequest("consent claims missing user_id")
	}
	if consent.Username == "" {
		return nil, ErrInvalidRequest("consent claims missing username")
	}
	if consent.Code == "" {
		return nil, ErrInvalidRequest("consent claims missing code")
	}
	if consent.Exp == 0 {
		return nil, ErrInvalidRequest("consent claims missing exp")
	}
	if err := VerifyNotExpired(consent.Exp); err != nil {
		return nil, err
	}
	return consent, nil
}
