package flow

import "net/url"

// BuildRedirectURI appends the produced artifacts and the client state to
// the redirect target. Only artifacts that exist become query parameters.
// Callers must have validated base against the client allowlist before any
// redirect is issued.
func BuildRedirectURI(base string, bundle *TokenBundle, state string) (string, error) {
	target, err := url.Parse(base)
	if err != nil {
		return "", ErrInvalidRequest("redirect_uri %q is not a valid URL", base)
	}
	q := target.Query()
	if bundle != nil {
		if bundle.Code != "" {
			q.Set("code", bundle.Code)
		}
		if bundle.AccessToken != "" {
			q.Set("token", bundle.AccessToken)
		}
		if bundle.IDToken != "" {
			q.Set("id_token", bundle.IDToken)
		}
	}
	if state != "" {
		q.Set("state", state)
	}
	target.RawQuery = q.Encode()
	return target.String(), nil
}
