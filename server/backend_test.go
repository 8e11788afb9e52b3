package server

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"authflowd/flow"
)

func newTestBackend(t *testing.T) (*Backend, *Store) {
	t.Helper()
	cfg := DefaultConfig()
	cfg.Server.SecretsPath = ""
	cfg.Clients = []ClientConfig{{
		ClientID:     "web",
		RedirectURIs: []string{"http://localhost:3000/"},
		Scopes:       []string{"openid", "profile"},
		Audiences:    []string{"api"},
	}}

	store := NewStore(cfg.Clients, cfg.CodeTTL())
	jwks, err := NewJWKSManager("", slog.Default())
	if err != nil {
		t.Fatalf("NewJWKSManager: %v", err)
	}
	return NewBackend(cfg, store, jwks, slog.Default()), store
}

func TestBackendClientLookup(t *testing.T) {
	b, _ := newTestBackend(t)

	client, err := b.getClient(context.Background(), "web")
	if err != nil {
		t.Fatalf("getClient: %v", err)
	}
	if client == nil || client.ID != "web" || len(client.Audiences) != 1 {
		t.Fatalf("client = %+v", client)
	}

	missing, err := b.getClient(context.Background(), "nope")
	if err != nil || missing != nil {
		t.Fatalf("unknown client: got %+v, %v", missing, err)
	}
}

func TestBackendAuthRequestCodeSingleUse(t *testing.T) {
	b, _ := newTestBackend(t)
	ctx := context.Background()

	code, err := b.generateAuthRequestCode(ctx, flow.AuthRequestClaims{
		ClientID: "web",
		Scope:    "profile",
		Exp:      time.Now().Add(time.Minute).Unix(),
	})
	if err != nil || code == "" {
		t.Fatalf("generateAuthRequestCode: %q, %v", code, err)
	}

	claims, err := b.getAuthRequestClaims(ctx, code)
	if err != nil {
		t.Fatalf("getAuthRequestClaims: %v", err)
	}
	if claims == nil || claims.ClientID != "web" {
		t.Fatalf("claims = %+v", claims)
	}

	again, err := b.getAuthRequestClaims(ctx, code)
	if err != nil || again != nil {
		t.Fatalf("second read should miss, got %+v, %v", again, err)
	}
}

func TestBackendAccessTokenVerifiable(t *testing.T) {
	b, _ := newTestBackend(t)

	artifact, err := b.generateAccessToken(context.Background(), flow.TokenRequest{
		ClientID:  "web",
		UserID:    "u1",
		Audiences: []string{"api"},
		Scopes:    []string{"openid", "profile"},
	})
	if err != nil {
		t.Fatalf("generateAccessToken: %v", err)
	}
	if artifact.ExpiresIn != int64(DefaultAccessTTL.Seconds()) {
		t.Fatalf("ExpiresIn = %d", artifact.ExpiresIn)
	}

	var claims accessTokenClaims
	parsed, err := jwt.ParseWithClaims(artifact.Token, &claims, b.jwks.Keyfunc,
		jwt.WithValidMethods([]string{jwt.SigningMethodRS256.Alg()}))
	if err != nil || !parsed.Valid {
		t.Fatalf("parse minted token: %v", err)
	}
	if claims.Subject != "u1" || claims.ClientID != "web" || claims.Scope != "openid profile" {
		t.Fatalf("claims = %+v", claims)
	}
}

func TestBackendConsentTokenRoundTrip(t *testing.T) {
	b, _ := newTestBackend(t)

	token, err := b.MintConsentToken("u1", "alice", "arc-1")
	if err != nil {
		t.Fatalf("MintConsentToken: %v", err)
	}

	consent, err := b.getAuthConsentClaims(context.Background(), token)
	if err != nil {
		t.Fatalf("getAuthConsentClaims: %v", err)
	}
	if consent.UserID != "u1" || consent.Username != "alice" || consent.Code != "arc-1" {
		t.Fatalf("consent = %+v", consent)
	}
	if consent.Exp <= time.Now().Unix() {
		t.Fatalf("consent exp not in the future: %d", consent.Exp)
	}
}

func TestBackendExpiredConsentTokenStillDecodes(t *testing.T) {
	b, _ := newTestBackend(t)
	b.consentTTL = -time.Minute

	token, err := b.MintConsentToken("u1", "alice", "arc-1")
	if err != nil {
		t.Fatalf("MintConsentToken: %v", err)
	}

	// Expiry is enforced by the flow on the decoded claims, so the decode
	// itself must survive an expired token.
	consent, err := b.getAuthConsentClaims(context.Background(), token)
	if err != nil {
		t.Fatalf("getAuthConsentClaims: %v", err)
	}
	if consent.Exp >= time.Now().Unix() {
		t.Fatalf("expected past exp, got %d", consent.Exp)
	}
	if err := flow.VerifyNotExpired(consent.Exp); err == nil {
		t.Fatalf("expected expiry failure downstream")
	}
}

func TestBackendFederatedUserProvisioning(t *testing.T) {
	b, store := newTestBackend(t)
	ctx := context.Background()

	lookup := flow.FIPUserLookup{
		ClientID: "web",
		Strategy: "acme",
		User:     flow.FIPUser{ID: "ext-7", Attributes: map[string]any{"email": "a@example.com"}},
	}

	first, err := b.getFIPUser(ctx, lookup)
	if err != nil {
		t.Fatalf("getFIPUser: %v", err)
	}
	if first.ID == "" {
		t.Fatalf("no user provisioned")
	}

	second, err := b.getFIPUser(ctx, lookup)
	if err != nil {
		t.Fatalf("getFIPUser repeat: %v", err)
	}
	if second.ID != first.ID {
		t.Fatalf("repeat lookup provisioned a new user: %s vs %s", second.ID, first.ID)
	}

	user := store.UserByUsername("acme:ext-7")
	if user == nil {
		t.Fatalf("federated username not namespaced by strategy")
	}
	if len(second.ClientIDs) == 0 || second.ClientIDs[0] != "web" {
		t.Fatalf("federated consent not linked: %+v", second.ClientIDs)
	}
}

func TestBackendAuthorizationCodeGrant(t *testing.T) {
	b, store := newTestBackend(t)

	artifact, err := b.generateAuthorizationCode(context.Background(), flow.TokenRequest{
		ClientID: "web",
		UserID:   "u1",
		Scopes:   []string{"profile"},
	})
	if err != nil || artifact.Token == "" {
		t.Fatalf("generateAuthorizationCode: %+v, %v", artifact, err)
	}

	grant, ok := store.ConsumeAuthCode(artifact.Token)
	if !ok || grant.UserID != "u1" {
		t.Fatalf("grant = %+v, ok=%v", grant, ok)
	}
	if _, ok := store.ConsumeAuthCode(artifact.Token); ok {
		t.Fatalf("authorization code should be single use")
	}
}
