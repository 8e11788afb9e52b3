package flow

import "context"

// FIPUserLookup identifies a federated profile to resolve against the
// backend user store.
type FIPUserLookup struct {
	ClientID string
	Strategy string
	User     FIPUser
	State    string
}

// Handlers is the injected capability set the orchestrator drives. Each
// field corresponds to one backend event; a nil field means the capability
// was not provided. Flows resolve the handlers they need up front and fail
// before any side effect when one is missing.
type Handlers struct {
	GetClient               func(ctx context.Context, clientID string) (*Client, error)
	GetConfig               func(ctx context.Context) (*ServiceConfig, error)
	GenerateAuthRequestCode func(ctx context.Context, claims AuthRequestClaims) (string, error)
	GetAuthRequestClaims    func(ctx context.Context, code string) (*AuthRequestClaims, error)
	GetAuthConsentClaims    func(ctx context.Context, token string) (*ConsentClaims, error)
	LinkClientToUser        func(ctx context.Context, userID, clientID string, scopes []string, state string) error
	GetEndUser              func(ctx context.Context, username string) (*ValidatedUser, error)
	GetFIPUser              func(ctx context.Context, lookup FIPUserLookup) (*ValidatedUser, error)

	GenerateAccessToken       func(ctx context.Context, req TokenRequest) (*TokenArtifact, error)
	GenerateIDToken           func(ctx context.Context, req TokenRequest) (*TokenArtifact, error)
	GenerateAuthorizationCode func(ctx context.Context, req TokenRequest) (*TokenArtifact, error)
}

// Handler event names, kept for missing-handler diagnostics.
const (
	eventGetClient                 = "get_client"
	eventGetConfig                 = "get_config"
	eventGenerateAuthRequestCode   = "generate_auth_request_code"
	eventGetAuthRequestClaims      = "get_auth_request_claims"
	eventGetAuthConsentClaims      = "get_auth_consent_claims"
	eventLinkClientToUser          = "link_client_to_user"
	eventGetEndUser                = "get_end_user"
	eventGetFIPUser                = "get_fip_user"
	eventGenerateAccessToken       = "generate_access_token"
	eventGenerateIDToken           = "generate_id_token"
	eventGenerateAuthorizationCode = "generate_authorization_code"
)

func (h Handlers) registered(event string) bool {
	switch event {
	case eventGetClient:
		return h.GetClient != nil
	case eventGetConfig:
		return h.GetConfig != nil
	case eventGenerateAuthRequestCode:
		return h.GenerateAuthRequestCode != nil
	case eventGetAuthRequestClaims:
		return h.GetAuthRequestClaims != nil
	case eventGetAuthConsentClaims:
		return h.GetAuthConsentClaims != nil
	case eventLinkClientToUser:
		return h.LinkClientToUser != nil
	case eventGetEndUser:
		return h.GetEndUser != nil
	case eventGetFIPUser:
		return h.GetFIPUser != nil
	case eventGenerateAccessToken:
		return h.GenerateAccessToken != nil
	case eventGenerateIDToken:
		return h.GenerateIDToken != nil
	case eventGenerateAuthorizationCode:
		return h.GenerateAuthorizationCode != nil
	}
	return false
}

// require fails fast with a server error naming the first unregistered
// handler.
func (h Handlers) require(events ...string) error {
	for _, event := range events {
		if !h.registered(event) {
			return ErrServerError("handler %s is not registered", event)
		}
	}
	return nil
}
