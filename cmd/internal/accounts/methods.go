package accounts

import (
	"context"

	"quay/cmd/identity"
)

// Session is the per-connection credential binding owned by the transport.
// The accounts core reads and writes it but never holds a reference beyond
// the call.
type Session interface {
	UserID() string
	LoginToken() string
	Bind(userID, token string)
	ClearBinding()
}

// Login dispatches the options through the handler chain. On success the
// calling connection is bound to the returned identity and token. A
// handler-reported nil result (an abandoned interactive flow) returns
// (nil, nil) without binding anything.
func (s *Service) Login(ctx context.Context, sess Session, req LoginRequest) (*LoginResult, error) {
	res, err := s.registry.Dispatch(ctx, req)
	if err != nil {
		return nil, err
	}
	if res == nil {
		return nil, nil
	}

	sess.Bind(res.UserID, res.Token)
	s.log.Info("accounts.login", "user_id", res.UserID)
	return res, nil
}

// Logout clears the current connection's binding. If the connection had
// both an identity and a token, exactly that one token is removed from the
// record, leaving other sessions for the same identity intact.
func (s *Service) Logout(ctx context.Context, sess Session) error {
	userID := sess.UserID()
	loginToken := sess.LoginToken()
	sess.ClearBinding()

	if userID == "" || loginToken == "" {
		return nil
	}

	err := s.store.RemoveLoginToken(ctx, userID, loginToken)
	if err != nil && !identity.IsNotFound(err) {
		return err
	}

	s.log.Info("accounts.logout", "user_id", userID)
	return nil
}

// LogoutAllOthers atomically replaces the caller's entire token set with a
// single freshly minted token, invalidating every other session. The whole
//-set replacement is one store operation, so a concurrent login cannot be
// half-lost. Requires an authenticated caller.
func (s *Service) LogoutAllOthers(ctx context.Context, sess Session) (LoginResult, error) {
	userID := sess.UserID()
	if userID == "" {
		return LoginResult{}, ErrNotAuthenticated
	}

	st, err := s.issuer.Mint(s.clock())
	if err != nil {
		return LoginResult{}, err
	}
	if err := s.store.ReplaceLoginTokens(ctx, userID, st); err != nil {
		return LoginResult{}, err
	}

	sess.Bind(userID, st.Token)
	s.log.Info("accounts.logout_all_others", "user_id", userID)

	expires := s.issuer.ExpiryOf(st.When)
	return LoginResult{UserID: userID, Token: st.Token, TokenExpires: &expires}, nil
}

// secretConfigKeys are configuration fields withheld from the public
// service-config projection.
var secretConfigKeys = map[string]bool{
	"secret":       true,
	"clientSecret": true,
	"privateKey":   true,
}

// ConfigureLoginService performs the one-time configuration write for an
// external login service. The service must match a registered handler
// (the internal resume mechanism is not configurable), and a second write
// for the same service fails with ErrServiceAlreadyConfigured.
func (s *Service) ConfigureLoginService(ctx context.Context, service string, conf map[string]any) error {
	if service == "" || service == "resume" || !s.registry.HasHandler(service) {
		return ErrServiceUnknown
	}

	secrets := make(map[string]any)
	public := make(map[string]any)
	for k, v := range conf {
		if secretConfigKeys[k] {
			secrets[k] = v
		} else {
			public[k] = v
		}
	}

	err := s.store.InsertServiceConfig(ctx, identity.ServiceConfig{
		Service:   service,
		Secrets:   secrets,
		Public:    public,
		CreatedAt: s.clock(),
	})
	if err != nil {
		if identity.ConflictField(err) == "service_config" {
			return ErrServiceAlreadyConfigured
		}
		return err
	}

	s.log.Info("accounts.login_service.configured", "service", service)
	return nil
}

// PublicServiceConfig is the non-secret projection published to clients.
type PublicServiceConfig struct {
	Service string         `json:"service"`
	Config  map[string]any `json:"config,omitempty"`
}

// PublicServiceConfigs returns the non-secret fields of every configured
// login service, for the publish channel at the boundary.
func (s *Service) PublicServiceConfigs(ctx context.Context) ([]PublicServiceConfig, error) {
	configs, err := s.store.ListServiceConfigs(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]PublicServiceConfig, 0, len(configs))
	for _, cfg := range configs {
		out = append(out, PublicServiceConfig{Service: cfg.Service, Config: cfg.Public})
	}
	return out, nil
}

// UserView returns the caller's own identity projection (profile,
// username, emails) for the publish channel at the boundary.
func (s *Service) UserView(ctx context.Context, userID string) (identity.PublicView, error) {
	rec, err := s.store.GetByID(ctx, userID)
	if err != nil {
		return identity.PublicView{}, err
	}
	return rec.Public(), nil
}
