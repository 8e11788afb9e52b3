package flow

import (
	"slices"
	"sort"
	"strings"
	"time"
)

// ResponseType selects which artifacts a flow must produce.
type ResponseType string

const (
	ResponseTypeCode    ResponseType = "code"
	ResponseTypeIDToken ResponseType = "id_token"
	ResponseTypeToken   ResponseType = "token"
)

// ResponseTypeSet is an order-insensitive set of requested response types,
// so "code id_token" and "id_token code" compare equal.
type ResponseTypeSet map[ResponseType]struct{}

// Has reports membership.
func (s ResponseTypeSet) Has(t ResponseType) bool {
	_, ok := s[t]
	return ok
}

// Equal reports set equality regardless of the order requested.
func (s ResponseTypeSet) Equal(other ResponseTypeSet) bool {
	if len(s) != len(other) {
		return false
	}
	for t := range s {
		if !other.Has(t) {
			return false
		}
	}
	return true
}

// String renders the canonical (sorted) form, used for stable cache keys and
// redirects.
func (s ResponseTypeSet) String() string {
	members := make([]string, 0, len(s))
	for t := range s {
		members = append(members, string(t))
	}
	sort.Strings(members)
	return strings.Join(members, " ")
}

// ParseResponseType splits the raw response_type parameter into a canonical
// set. Any unrecognized member rejects the whole request, naming the raw
// value so the client can see what was refused.
func ParseResponseType(raw string) (ResponseTypeSet, error) {
	members := SplitTokens(raw)
	if len(members) == 0 {
		return nil, ErrInvalidRequest("invalid response_type %q", raw)
	}
	set := make(ResponseTypeSet, len(members))
	for _, m := range members {
		switch t := ResponseType(m); t {
		case ResponseTypeCode, ResponseTypeIDToken, ResponseTypeToken:
			set[t] = struct{}{}
		default:
			return nil, ErrInvalidRequest("invalid response_type %q", raw)
		}
	}
	return set, nil
}

// SplitTokens splits a URL-decoded, space or '+' delimited parameter into
// its non-empty members. Empty input yields an empty list.
func SplitTokens(raw string) []string {
	return strings.FieldsFunc(raw, func(r rune) bool {
		return r == ' ' || r == '+' || r == '\t'
	})
}

// JoinTokens is the inverse of SplitTokens, dropping empty members.
func JoinTokens(members []string) string {
	out := make([]string, 0, len(members))
	for _, m := range members {
		if m != "" {
			out = append(out, m)
		}
	}
	return strings.Join(out, " ")
}

// VerifyScopeContainment checks every requested scope against the allowed
// list. "openid" is exempt: it carries protocol meaning and needs no client
// grant on its own.
func VerifyScopeContainment(requested, allowed []string) error {
	var offending []string
	for _, scope := range requested {
		if scope == ScopeOpenID {
			continue
		}
		if !slices.Contains(allowed, scope) {
			offending = append(offending, scope)
		}
	}
	switch len(offending) {
	case 0:
		return nil
	case 1:
		return ErrInvalidScope("scope %s is not allowed for this client", offending[0])
	default:
		return ErrInvalidScope("scopes %s are not allowed for this client", strings.Join(offending, ", "))
	}
}

// VerifyAudienceContainment checks every requested audience against the
// allowed list.
func VerifyAudienceContainment(requested, allowed []string) error {
	var offending []string
	for _, aud := range requested {
		if !slices.Contains(allowed, aud) {
			offending = append(offending, aud)
		}
	}
	switch len(offending) {
	case 0:
		return nil
	case 1:
		return ErrUnauthorizedClient("audience %s is not allowed for this client", offending[0])
	default:
		return ErrUnauthorizedClient("audiences %s are not allowed for this client", strings.Join(offending, ", "))
	}
}

// VerifyNotExpired checks an exp claim given in Unix seconds. A missing
// claim is a malformed-claims condition, distinct from an actually expired
// token.
func VerifyNotExpired(exp int64) error {
	if exp <= 0 {
		return ErrInvalidClaim("claim exp is missing or not numeric")
	}
	if time.Now().Unix() > exp {
		return ErrInvalidToken("token expired")
	}
	return nil
}

// VerifyClientLinkage asserts that the authenticated user is linked to the
// requesting client. An empty linkage list signals backend data corruption
// rather than an authorization failure.
func VerifyClientLinkage(clientID, userID string, userClientIDs []string) error {
	if len(userClientIDs) == 0 {
		return ErrServerError("user %s has no linked clients on record", userID)
	}
	if !slices.Contains(userClientIDs, clientID) {
		return ErrInvalidClient("client %s is not linked to user %s", clientID, userID)
	}
	return nil
}

// ValidateCodeChallenge checks a PKCE pair for internal consistency. An
// absent method with a present challenge defaults to "plain" per RFC 7636.
func ValidateCodeChallenge(challenge, method string) error {
	if challenge == "" {
		if method != "" {
			return ErrInvalidRequest("code_challenge_method provided without code_challenge")
		}
		return nil
	}
	switch method {
	case "", "plain", "S256":
		return nil
	default:
		return ErrInvalidRequest("invalid code_challenge_method %q", method)
	}
}

// dedupeScopes appends required to scopes if missing, preserving order.
func dedupeScopes(scopes []string, required string) []string {
	if slices.Contains(scopes, required) {
		return scopes
	}
	return append(append([]string{}, scopes...), required)
}
