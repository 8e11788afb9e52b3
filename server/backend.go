package server

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"authflowd/flow"
)

// accessTokenClaims is the wire shape of a minted access token.
type accessTokenClaims struct {
	Scope    string `json:"scope,omitempty"`
	ClientID string `json:"client_id,omitempty"`
	jwt.RegisteredClaims
}

// idTokenClaims is the wire shape of a minted id token.
type idTokenClaims struct {
	Nonce string `json:"nonce,omitempty"`
	jwt.RegisteredClaims
}

// consentTokenClaims bind an approved consent back to the pending request.
type consentTokenClaims struct {
	UserID   string `json:"user_id"`
	Username string `json:"username"`
	Code     string `json:"code"`
	jwt.RegisteredClaims
}

// Backend is the built-in handler set backing the flow orchestrator with the
// in-memory store and the local signing keys. Deployments with their own user
// systems supply their own flow.Handlers instead.
type Backend struct {
	issuer     string
	consentURL string
	store      *Store
	jwks       *JWKSManager
	logger     *slog.Logger

	accessTTL  time.Duration
	idTTL      time.Duration
	consentTTL time.Duration
}

// NewBackend wires the reference backend from config.
func NewBackend(cfg Config, store *Store, jwks *JWKSManager, logger *slog.Logger) *Backend {
	return &Backend{
		issuer:     strings.TrimSuffix(cfg.Server.PublicURL, "/"),
		consentURL: cfg.Consent.PageURL,
		store:      store,
		jwks:       jwks,
		logger:     logger,
		accessTTL:  cfg.AccessTokenTTL(),
		idTTL:      cfg.IDTokenTTL(),
		consentTTL: cfg.ConsentTokenTTL(),
	}
}

// Handlers exposes the backend as the orchestrator's capability set.
func (b *Backend) Handlers() flow.Handlers {
	return flow.Handlers{
		GetClient:               b.getClient,
		GetConfig:               b.getConfig,
		GenerateAuthRequestCode: b.generateAuthRequestCode,
		GetAuthRequestClaims:    b.getAuthRequestClaims,
		GetAuthConsentClaims:    b.getAuthConsentClaims,
		LinkClientToUser:        b.linkClientToUser,
		GetEndUser:              b.getEndUser,
		GetFIPUser:              b.getFIPUser,

		GenerateAccessToken:       b.generateAccessToken,
		GenerateIDToken:           b.generateIDToken,
		GenerateAuthorizationCode: b.generateAuthorizationCode,
	}
}

func (b *Backend) getClient(_ context.Context, clientID string) (*flow.Client, error) {
	return b.store.Client(clientID), nil
}

func (b *Backend) getConfig(context.Context) (*flow.ServiceConfig, error) {
	return &flow.ServiceConfig{ConsentPage: b.consentURL}, nil
}

func (b *Backend) generateAuthRequestCode(_ context.Context, claims flow.AuthRequestClaims) (string, error) {
	return b.store.SaveAuthRequest(claims), nil
}

func (b *Backend) getAuthRequestClaims(_ context.Context, code string) (*flow.AuthRequestClaims, error) {
	claims, ok := b.store.ConsumeAuthRequest(code)
	if !ok {
		return nil, nil
	}
	return claims, nil
}

func (b *Backend) getAuthConsentClaims(_ context.Context, token string) (*flow.ConsentClaims, error) {
	var claims consentTokenClaims
	parsed, err := jwt.ParseWithClaims(token, &claims, b.jwks.Keyfunc,
		jwt.WithValidMethods([]string{jwt.SigningMethodRS256.Alg()}),
		jwt.WithIssuer(b.issuer),
	)
	if err != nil || !parsed.Valid {
		// Expiry and field checks happen downstream on the decoded claims.
		var expired consentTokenClaims
		if _, perr := jwt.ParseWithClaims(token, &expired, b.jwks.Keyfunc,
			jwt.WithValidMethods([]string{jwt.SigningMethodRS256.Alg()}),
			jwt.WithoutClaimsValidation(),
		); perr == nil {
			claims = expired
		} else {
			return nil, fmt.Errorf("parse consent token: %w", err)
		}
	}

	var exp int64
	if claims.ExpiresAt != nil {
		exp = claims.ExpiresAt.Unix()
	}
	return &flow.ConsentClaims{
		UserID:   claims.UserID,
		Username: claims.Username,
		Code:     claims.Code,
		Exp:      exp,
	}, nil
}

// MintConsentToken issues the signed consent token the consent page hands
// back after the user approves.
func (b *Backend) MintConsentToken(userID, username, code string) (string, error) {
	claims := consentTokenClaims{
		UserID:   userID,
		Username: username,
		Code:     code,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    b.issuer,
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(b.consentTTL)),
			ID:        uuid.NewString(),
		},
	}
	mapClaims, err := claimsToMap(claims)
	if err != nil {
		return "", err
	}
	token, _, err := b.jwks.Sign(mapClaims)
	return token, err
}

func (b *Backend) linkClientToUser(_ context.Context, userID, clientID string, scopes []string, _ string) error {
	if !b.store.LinkClientToUser(userID, clientID) {
		return fmt.Errorf("user %s not found", userID)
	}
	b.logger.Debug("client linked to user", "user_id", userID, "client_id", clientID, "scopes", scopes)
	return nil
}

func (b *Backend) getEndUser(_ context.Context, username string) (*flow.ValidatedUser, error) {
	user := b.store.UserByUsername(username)
	if user == nil {
		return nil, nil
	}
	return &flow.ValidatedUser{ID: user.ID, ClientIDs: user.ClientIDs}, nil
}

func (b *Backend) getFIPUser(_ context.Context, lookup flow.FIPUserLookup) (*flow.ValidatedUser, error) {
	user := b.store.UpsertFederatedUser(lookup.Strategy, lookup.User)
	// Federated consent is implied by completing the provider round trip.
	if lookup.ClientID != "" {
		b.store.LinkClientToUser(user.ID, lookup.ClientID)
		user = b.store.UserByUsername(user.Username)
	}
	return &flow.ValidatedUser{ID: user.ID, ClientIDs: user.ClientIDs}, nil
}

func (b *Backend) generateAccessToken(_ context.Context, req flow.TokenRequest) (*flow.TokenArtifact, error) {
	claims := accessTokenClaims{
		Scope:    flow.JoinTokens(req.Scopes),
		ClientID: req.ClientID,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    b.issuer,
			Subject:   req.UserID,
			Audience:  jwt.ClaimStrings(req.Audiences),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(b.accessTTL)),
			ID:        uuid.NewString(),
		},
	}
	mapClaims, err := claimsToMap(claims)
	if err != nil {
		return nil, err
	}
	token, _, err := b.jwks.Sign(mapClaims)
	if err != nil {
		return nil, err
	}
	return &flow.TokenArtifact{Token: token, ExpiresIn: int64(b.accessTTL.Seconds())}, nil
}

func (b *Backend) generateIDToken(_ context.Context, req flow.TokenRequest) (*flow.TokenArtifact, error) {
	claims := idTokenClaims{
		Nonce: req.Nonce,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    b.issuer,
			Subject:   req.UserID,
			Audience:  jwt.ClaimStrings{req.ClientID},
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(b.idTTL)),
			ID:        uuid.NewString(),
		},
	}
	mapClaims, err := claimsToMap(claims)
	if err != nil {
		return nil, err
	}
	token, _, err := b.jwks.Sign(mapClaims)
	if err != nil {
		return nil, err
	}
	return &flow.TokenArtifact{Token: token}, nil
}

func (b *Backend) generateAuthorizationCode(_ context.Context, req flow.TokenRequest) (*flow.TokenArtifact, error) {
	return &flow.TokenArtifact{Token: b.store.SaveAuthCode(req)}, nil
}

func claimsToMap(claims any) (jwt.MapClaims, error) {
	b, err := json.Marshal(claims)
	if err != nil {
		return nil, err
	}
	var out jwt.MapClaims
	if err := json.Unmarshal(b, &out); err != nil {
		return nil, err
	}
	return out, nil
}
