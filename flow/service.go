package flow

import (
	"context"
	"io"
	"log/slog"
	"time"
)

// AuthRequestTTL bounds how long a minted auth request code stays
// exchangeable while the user sits on the consent page.
const AuthRequestTTL = 10 * time.Minute

// ProfileResolver is the per-provider adapter for federated login. One
// instance is constructed per configured provider and passed in explicitly;
// there is no lazily-initialized global registry.
type ProfileResolver interface {
	// AuthCodeURL builds the upstream authorization redirect carrying the
	// encoded state.
	AuthCodeURL(state string, req UpstreamRequest) string
	// ResolveProfile exchanges the upstream code for a verified profile.
	// redirectURI must be the exact callback URI used to obtain the code.
	ResolveProfile(ctx context.Context, code, redirectURI string) (*FIPUser, error)
}

// UpstreamRequest carries the parameters forwarded to a federated provider.
type UpstreamRequest struct {
	Scope       string
	RedirectURI string
	Nonce       string
}

// Service orchestrates authorization flows against an injected handler set.
// Each request is an independent task; the only shared state lives behind
// the handlers and resolvers.
type Service struct {
	handlers  Handlers
	resolvers map[string]ProfileResolver
	logger    *slog.Logger
	now       func() time.Time
}

// NewService wires the orchestrator. resolvers may be nil when no federated
// providers are configured.
func NewService(handlers Handlers, resolvers map[string]ProfileResolver, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Service{
		handlers:  handlers,
		resolvers: resolvers,
		logger:    logger,
		now:       time.Now,
	}
}

func (s *Service) resolver(strategy string) (ProfileResolver, bool) {
	r, ok := s.resolvers[strategy]
	return r, ok
}
