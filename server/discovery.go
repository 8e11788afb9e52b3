package server

import "strings"

// DiscoveryDocument is a simple alias for discovery metadata.
type DiscoveryDocument map[string]any

// BuildDiscoveryDocument constructs the OIDC discovery document.
func BuildDiscoveryDocument(cfg Config) DiscoveryDocument {
	issuer := strings.TrimSuffix(cfg.Server.PublicURL, "/")
	return DiscoveryDocument{
		"issuer":                 issuer,
		"authorization_endpoint": issuer + "/authorize",
		"jwks_uri":               issuer + "/.well-known/jwks.json",
		"response_types_supported": []string{
			"code", "token", "id_token",
			"code token", "code id_token", "token id_token",
			"code token id_token",
		},
		"code_challenge_methods_supported": []string{"plain", "S256"},
		"scopes_supported":                 []string{"openid", "profile", "email"},
		"subject_types_supported":          []string{"public"},
		"id_token_signing_alg_values_supported": []string{"RS256"},
	}
}
