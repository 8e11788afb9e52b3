package flow

import "strings"

// ScopeOpenID has protocol meaning: it gates id_token issuance and is always
// forwarded to federated providers.
const ScopeOpenID = "openid"

// AuthorizationRequest carries the raw inbound /authorize parameters for one
// flow. It lives only for the duration of the flow, surviving redirect hops
// as an opaque stored reference or encoded state.
type AuthorizationRequest struct {
	ClientID            string
	ResponseType        string
	RedirectURI         string
	Scope               string
	State               string
	CodeChallenge       string
	CodeChallengeMethod string
	Nonce               string
}

// Client is the registry view of a relying client. The orchestrator only
// reads it; ownership stays with the injected backend.
type Client struct {
	ID           string
	Scopes       []string
	Audiences    []string
	RedirectURIs []string
}

// AllowsRedirect reports whether uri is covered by the client allowlist.
// Matching is prefix-based in either direction: a registered URI may be a
// prefix of the requested one or vice versa. This is deliberately permissive
// and preserved from the original registry contract; treat any change here
// as security sensitive.
func (c *Client) AllowsRedirect(uri string) bool {
	if uri == "" {
		return false
	}
	for _, registered := range c.RedirectURIs {
		if registered == "" {
			continue
		}
		if strings.HasPrefix(uri, registered) || strings.HasPrefix(registered, uri) {
			return true
		}
	}
	return false
}

// FIPUser is the external profile returned by a federated identity provider
// adapter. ID is mandatory; everything else is provider-specific.
type FIPUser struct {
	ID         string
	Attributes map[string]any
}

// ValidatedUser is the backend's view of a resolved end user, including the
// clients the user has been linked to.
type ValidatedUser struct {
	ID        string
	ClientIDs []string
}

// TokenBundle holds whichever artifacts the dispatch produced. An unset
// member means that artifact was not requested.
type TokenBundle struct {
	Code        string
	AccessToken string
	IDToken     string
	ExpiresIn   int64
}

// Empty reports whether no artifact was produced.
func (b *TokenBundle) Empty() bool {
	return b == nil || (b.Code == "" && b.AccessToken == "" && b.IDToken == "")
}

// AuthRequestClaims bind an opaque auth request code to the full original
// parameter set, nonce included, so the request can be reconstructed after
// the consent hop. Exp is Unix seconds.
type AuthRequestClaims struct {
	ClientID            string
	ResponseType        string
	RedirectURI         string
	Scope               string
	State               string
	CodeChallenge       string
	CodeChallengeMethod string
	Nonce               string
	Exp                 int64
}

// Request reconstructs the original authorization request.
func (c *AuthRequestClaims) Request() AuthorizationRequest {
	return AuthorizationRequest{
		ClientID:            c.ClientID,
		ResponseType:        c.ResponseType,
		RedirectURI:         c.RedirectURI,
		Scope:               c.Scope,
		State:               c.State,
		CodeChallenge:       c.CodeChallenge,
		CodeChallengeMethod: c.CodeChallengeMethod,
		Nonce:               c.Nonce,
	}
}

// ConsentClaims are returned when a consent code is exchanged. Code is the
// original auth request code the consent page received. Exp is Unix seconds.
type ConsentClaims struct {
	UserID   string
	Username string
	Code     string
	Exp      int64
}

// ServiceConfig is the slice of server configuration the orchestrator needs.
type ServiceConfig struct {
	ConsentPage string
}

// TokenRequest parameterizes a single artifact issuance call to the backend.
type TokenRequest struct {
	ClientID            string
	UserID              string
	Audiences           []string
	Scopes              []string
	RedirectURI         string
	CodeChallenge       string
	CodeChallengeMethod string
	Nonce               string
	State               string
}

// TokenArtifact is one issued artifact. ExpiresIn is only meaningful for
// access tokens.
type TokenArtifact struct {
	Token     string
	ExpiresIn int64
}
