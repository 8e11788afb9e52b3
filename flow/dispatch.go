package flow

import (
	"context"
	"slices"
	"sync"

	"github.com/hashicorp/go-multierror"
)

// generatorEvents names the issuance handlers the response types call for.
func generatorEvents(responseTypes ResponseTypeSet) []string {
	var events []string
	if responseTypes.Has(ResponseTypeToken) {
		events = append(events, eventGenerateAccessToken)
	}
	if responseTypes.Has(ResponseTypeCode) {
		events = append(events, eventGenerateAuthorizationCode)
	}
	if responseTypes.Has(ResponseTypeIDToken) {
		events = append(events, eventGenerateIDToken)
	}
	return events
}

// DispatchTokens decides which artifacts the requested response types call
// for, runs the issuance calls concurrently, and aggregates the results.
// Artifacts that were not requested resolve immediately to an empty result
// so aggregation stays uniform. Any single failure fails the whole dispatch;
// no partial token set is ever returned.
func (s *Service) DispatchTokens(ctx context.Context, responseTypes ResponseTypeSet, scopes []string, req TokenRequest) (*TokenBundle, error) {
	idTokenRequested := responseTypes.Has(ResponseTypeIDToken)
	if idTokenRequested && !slices.Contains(scopes, ScopeOpenID) {
		return nil, ErrInvalidRequest("id_token requested without the openid scope")
	}

	if err := s.handlers.require(generatorEvents(responseTypes)...); err != nil {
		return nil, err
	}

	req.Scopes = scopes

	none := func(context.Context, TokenRequest) (*TokenArtifact, error) { return nil, nil }
	accessFn, codeFn, idFn := none, none, none
	if responseTypes.Has(ResponseTypeToken) {
		accessFn = s.handlers.GenerateAccessToken
	}
	if responseTypes.Has(ResponseTypeCode) {
		codeFn = s.handlers.GenerateAuthorizationCode
	}
	if idTokenRequested {
		idFn = s.handlers.GenerateIDToken
	}

	var (
		wg     sync.WaitGroup
		mu     sync.Mutex
		errs   *multierror.Error
		bundle TokenBundle
	)
	issue := func(name string, fn func(context.Context, TokenRequest) (*TokenArtifact, error), assign func(*TokenArtifact)) {
		defer wg.Done()
		artifact, err := fn(ctx, req)
		mu.Lock()
		defer mu.Unlock()
		if err != nil {
			errs = multierror.Append(errs, Wrap("could not generate "+name, err))
			return
		}
		if artifact != nil && artifact.Token != "" {
			assign(artifact)
		}
	}

	wg.Add(3)
	go issue("access_token", accessFn, func(a *TokenArtifact) {
		bundle.AccessToken = a.Token
		bundle.ExpiresIn = a.ExpiresIn
	})
	go issue("authorization_code", codeFn, func(a *TokenArtifact) {
		bundle.Code = a.Token
	})
	go issue("id_token", idFn, func(a *TokenArtifact) {
		bundle.IDToken = a.Token
	})
	wg.Wait()

	if err := errs.ErrorOrNil(); err != nil {
		return nil, Wrap("token generation failed", err)
	}

	// Defense in depth: an entirely empty bundle after an id_token request
	// means the openid precondition was bypassed upstream.
	if bundle.Empty() && idTokenRequested {
		return nil, ErrInvalidRequest("no token artifacts were produced")
	}

	return &bundle, nil
}
