package flow

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"testing"
)

func dispatchHandlers(access, code, id *atomic.Int32) Handlers {
	return Handlers{
		GenerateAccessToken: func(context.Context, TokenRequest) (*TokenArtifact, error) {
			access.Add(1)
			return &TokenArtifact{Token: "at-1", ExpiresIn: 600}, nil
		},
		GenerateAuthorizationCode: func(context.Context, TokenRequest) (*TokenArtifact, error) {
			code.Add(1)
			return &TokenArtifact{Token: "ac-1"}, nil
		},
		GenerateIDToken: func(context.Context, TokenRequest) (*TokenArtifact, error) {
			id.Add(1)
			return &TokenArtifact{Token: "idt-1"}, nil
		},
	}
}

func TestDispatchTokensOnlyRequestedArtifacts(t *testing.T) {
	var access, code, id atomic.Int32
	svc := newTestService(t, dispatchHandlers(&access, &code, &id), nil)

	types, err := ParseResponseType("code token")
	if err != nil {
		t.Fatalf("ParseResponseType: %v", err)
	}
	bundle, err := svc.DispatchTokens(context.Background(), types, []string{"profile"}, TokenRequest{UserID: "42"})
	if err != nil {
		t.Fatalf("DispatchTokens: %v", err)
	}

	if bundle.AccessToken != "at-1" || bundle.Code != "ac-1" || bundle.IDToken != "" {
		t.Fatalf("bundle = %+v", bundle)
	}
	if bundle.ExpiresIn != 600 {
		t.Fatalf("ExpiresIn = %d, want 600", bundle.ExpiresIn)
	}
	if access.Load() != 1 || code.Load() != 1 || id.Load() != 0 {
		t.Fatalf("handler calls: access=%d code=%d id=%d", access.Load(), code.Load(), id.Load())
	}
}

func TestDispatchTokensIDTokenRequiresOpenID(t *testing.T) {
	var access, code, id atomic.Int32
	svc := newTestService(t, dispatchHandlers(&access, &code, &id), nil)

	types, err := ParseResponseType("code id_token")
	if err != nil {
		t.Fatalf("ParseResponseType: %v", err)
	}
	_, err = svc.DispatchTokens(context.Background(), types, []string{"profile"}, TokenRequest{})
	if err == nil {
		t.Fatalf("expected failure without openid scope")
	}
	e := AsError(err)
	if e.Code != CodeInvalidRequest || !strings.Contains(e.Message, "openid") {
		t.Fatalf("got %v, want invalid_request naming openid", err)
	}
	if access.Load()+code.Load()+id.Load() != 0 {
		t.Fatalf("handlers ran despite precondition failure")
	}
}

func TestDispatchTokensIDTokenWithOpenID(t *testing.T) {
	var access, code, id atomic.Int32
	svc := newTestService(t, dispatchHandlers(&access, &code, &id), nil)

	types, err := ParseResponseType("id_token")
	if err != nil {
		t.Fatalf("ParseResponseType: %v", err)
	}
	bundle, err := svc.DispatchTokens(context.Background(), types, []string{"openid"}, TokenRequest{})
	if err != nil {
		t.Fatalf("DispatchTokens: %v", err)
	}
	if bundle.IDToken != "idt-1" || bundle.AccessToken != "" || bundle.Code != "" {
		t.Fatalf("bundle = %+v", bundle)
	}
	if id.Load() != 1 || access.Load() != 0 || code.Load() != 0 {
		t.Fatalf("handler calls: access=%d code=%d id=%d", access.Load(), code.Load(), id.Load())
	}
}

func TestDispatchTokensSingleFailureFailsAll(t *testing.T) {
	var access, code, id atomic.Int32
	h := dispatchHandlers(&access, &code, &id)
	h.GenerateIDToken = func(context.Context, TokenRequest) (*TokenArtifact, error) {
		id.Add(1)
		return nil, errors.New("signer unavailable")
	}
	svc := newTestService(t, h, nil)

	types, err := ParseResponseType("code token id_token")
	if err != nil {
		t.Fatalf("ParseResponseType: %v", err)
	}
	bundle, err := svc.DispatchTokens(context.Background(), types, []string{"openid", "profile"}, TokenRequest{})
	if err == nil {
		t.Fatalf("expected dispatch failure")
	}
	if bundle != nil {
		t.Fatalf("partial bundle returned: %+v", bundle)
	}
	if !strings.Contains(err.Error(), "id_token") || !strings.Contains(err.Error(), "signer unavailable") {
		t.Fatalf("error %q does not name the failed artifact and cause", err)
	}
	// The other goroutines still ran to completion before aggregation.
	if access.Load() != 1 || code.Load() != 1 {
		t.Fatalf("handler calls: access=%d code=%d", access.Load(), code.Load())
	}
}

func TestDispatchTokensMissingHandler(t *testing.T) {
	svc := newTestService(t, Handlers{}, nil)

	types, err := ParseResponseType("token")
	if err != nil {
		t.Fatalf("ParseResponseType: %v", err)
	}
	_, err = svc.DispatchTokens(context.Background(), types, nil, TokenRequest{})
	if err == nil {
		t.Fatalf("expected missing handler error")
	}
	e := AsError(err)
	if e.Code != CodeServerError || !strings.Contains(e.Message, "generate_access_token") {
		t.Fatalf("got %v, want server error naming generate_access_token", err)
	}
}
