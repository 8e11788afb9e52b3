package flow

import (
	"context"
	"net/url"
	"strings"
	"testing"
	"time"
)

// consentFixture wires a complete in-memory handler set for the local flow.
type consentFixture struct {
	handlers Handlers

	authRequests map[string]AuthRequestClaims
	consents     map[string]*ConsentClaims
	users        map[string]*ValidatedUser
	linked       []string
}

func newConsentFixture(t *testing.T) *consentFixture {
	t.Helper()
	f := &consentFixture{
		authRequests: map[string]AuthRequestClaims{},
		consents:     map[string]*ConsentClaims{},
		users: map[string]*ValidatedUser{
			"alice": {ID: "42"},
		},
	}
	clients := map[string]*Client{
		"c1": {
			ID:           "c1",
			Scopes:       []string{"profile"},
			Audiences:    []string{"api"},
			RedirectURIs: []string{"https://app.example.com/"},
		},
	}

	nextCode := 0
	f.handlers = Handlers{
		GetClient: func(_ context.Context, id string) (*Client, error) {
			return clients[id], nil
		},
		GetConfig: func(context.Context) (*ServiceConfig, error) {
			return &ServiceConfig{ConsentPage: "https://consent.example.com/grant"}, nil
		},
		GenerateAuthRequestCode: func(_ context.Context, claims AuthRequestClaims) (string, error) {
			nextCode++
			code := "arc-" + strings.Repeat("x", nextCode)
			f.authRequests[code] = claims
			return code, nil
		},
		GetAuthRequestClaims: func(_ context.Context, code string) (*AuthRequestClaims, error) {
			claims, ok := f.authRequests[code]
			if !ok {
				return nil, nil
			}
			return &claims, nil
		},
		GetAuthConsentClaims: func(_ context.Context, token string) (*ConsentClaims, error) {
			return f.consents[token], nil
		},
		LinkClientToUser: func(_ context.Context, userID, clientID string, scopes []string, state string) error {
			f.linked = append(f.linked, userID+":"+clientID)
			for _, u := range f.users {
				if u.ID == userID {
					u.ClientIDs = append(u.ClientIDs, clientID)
				}
			}
			return nil
		},
		GetEndUser: func(_ context.Context, username string) (*ValidatedUser, error) {
			return f.users[username], nil
		},
		GenerateAccessToken: func(context.Context, TokenRequest) (*TokenArtifact, error) {
			return &TokenArtifact{Token: "at-1", ExpiresIn: 600}, nil
		},
		GenerateIDToken: func(context.Context, TokenRequest) (*TokenArtifact, error) {
			return &TokenArtifact{Token: "idt-1"}, nil
		},
		GenerateAuthorizationCode: func(context.Context, TokenRequest) (*TokenArtifact, error) {
			return &TokenArtifact{Token: "ac-1"}, nil
		},
	}
	return f
}

// grant simulates the consent page approving the pending request.
func (f *consentFixture) grant(userID, username, authRequestCode string) string {
	token := "consent-" + authRequestCode
	f.consents[token] = &ConsentClaims{
		UserID:   userID,
		Username: username,
		Code:     authRequestCode,
		Exp:      time.Now().Add(time.Minute).Unix(),
	}
	return token
}

func consentCodeFromRedirect(t *testing.T, redirect string) string {
	t.Helper()
	u, err := url.Parse(redirect)
	if err != nil {
		t.Fatalf("parse consent redirect: %v", err)
	}
	code := u.Query().Get("code")
	if code == "" {
		t.Fatalf("consent redirect %q has no code", redirect)
	}
	return code
}

func TestLocalConsentFlowEndToEnd(t *testing.T) {
	f := newConsentFixture(t)
	svc := newTestService(t, f.handlers, nil)
	ctx := context.Background()

	redirect, err := svc.Authorize(ctx, AuthorizationRequest{
		ClientID:     "c1",
		ResponseType: "code",
		RedirectURI:  "https://app.example.com/cb",
		Scope:        "profile",
		State:        "xyz",
	})
	if err != nil {
		t.Fatalf("Authorize: %v", err)
	}
	if !strings.HasPrefix(redirect, "https://consent.example.com/grant?") {
		t.Fatalf("unexpected consent redirect %q", redirect)
	}
	authRequestCode := consentCodeFromRedirect(t, redirect)

	final, err := svc.CompleteConsent(ctx, f.grant("42", "alice", authRequestCode))
	if err != nil {
		t.Fatalf("CompleteConsent: %v", err)
	}

	u, err := url.Parse(final)
	if err != nil {
		t.Fatalf("parse final redirect: %v", err)
	}
	if u.Host != "app.example.com" || u.Path != "/cb" {
		t.Fatalf("final redirect target %q", final)
	}
	q := u.Query()
	if q.Get("code") != "ac-1" {
		t.Fatalf("final redirect code = %q", q.Get("code"))
	}
	if q.Get("state") != "xyz" {
		t.Fatalf("final redirect state = %q", q.Get("state"))
	}
	if q.Get("token") != "" || q.Get("id_token") != "" {
		t.Fatalf("unrequested artifacts leaked into %q", final)
	}
	if len(f.linked) != 1 || f.linked[0] != "42:c1" {
		t.Fatalf("linkage calls = %v", f.linked)
	}
}

func TestLocalConsentIDTokenWithoutOpenIDFailsAtDispatch(t *testing.T) {
	f := newConsentFixture(t)
	svc := newTestService(t, f.handlers, nil)
	ctx := context.Background()

	// Validation passes: openid is not required at request time.
	redirect, err := svc.Authorize(ctx, AuthorizationRequest{
		ClientID:     "c1",
		ResponseType: "code+id_token",
		RedirectURI:  "https://app.example.com/cb",
		Scope:        "profile",
	})
	if err != nil {
		t.Fatalf("Authorize: %v", err)
	}

	_, err = svc.CompleteConsent(ctx, f.grant("42", "alice", consentCodeFromRedirect(t, redirect)))
	if err == nil {
		t.Fatalf("expected dispatch failure without openid scope")
	}
	if e := AsError(err); e.Code != CodeInvalidRequest {
		t.Fatalf("code = %s, want %s (%v)", e.Code, CodeInvalidRequest, err)
	}
}

func TestCompleteConsentClaimValidation(t *testing.T) {
	f := newConsentFixture(t)
	svc := newTestService(t, f.handlers, nil)
	ctx := context.Background()

	cases := []struct {
		name     string
		claims   *ConsentClaims
		wantCode Code
	}{
		{"missing user_id", &ConsentClaims{Username: "alice", Code: "arc", Exp: time.Now().Add(time.Minute).Unix()}, CodeInvalidRequest},
		{"missing username", &ConsentClaims{UserID: "42", Code: "arc", Exp: time.Now().Add(time.Minute).Unix()}, CodeInvalidRequest},
		{"missing code", &ConsentClaims{UserID: "42", Username: "alice", Exp: time.Now().Add(time.Minute).Unix()}, CodeInvalidRequest},
		{"missing exp", &ConsentClaims{UserID: "42", Username: "alice", Code: "arc"}, CodeInvalidRequest},
		{"expired", &ConsentClaims{UserID: "42", Username: "alice", Code: "arc", Exp: time.Now().Add(-time.Second).Unix()}, CodeInvalidToken},
	}

	for _, c := range cases {
		f.consents["t"] = c.claims
		_, err := svc.CompleteConsent(ctx, "t")
		if err == nil {
			t.Fatalf("%s: expected error", c.name)
		}
		if e := AsError(err); e.Code != c.wantCode {
			t.Fatalf("%s: code = %s, want %s (%v)", c.name, e.Code, c.wantCode, err)
		}
	}
}

func TestCompleteConsentLinkageVerification(t *testing.T) {
	f := newConsentFixture(t)
	// Linking silently does nothing.
	f.handlers.LinkClientToUser = func(context.Context, string, string, []string, string) error {
		return nil
	}
	svc := newTestService(t, f.handlers, nil)
	ctx := context.Background()

	redirect, err := svc.Authorize(ctx, AuthorizationRequest{
		ClientID:     "c1",
		ResponseType: "code",
		RedirectURI:  "https://app.example.com/cb",
		Scope:        "profile",
	})
	if err != nil {
		t.Fatalf("Authorize: %v", err)
	}

	_, err = svc.CompleteConsent(ctx, f.grant("42", "alice", consentCodeFromRedirect(t, redirect)))
	if err == nil {
		t.Fatalf("expected linkage verification failure")
	}
	if e := AsError(err); e.Code != CodeServerError {
		t.Fatalf("code = %s, want %s (%v)", e.Code, CodeServerError, err)
	}
}
