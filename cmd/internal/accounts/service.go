package accounts

import (
	"context"
	"log/slog"
	"time"

	"quay/cmd/identity"
)

// reservedServiceNames are provider names owned by built-in mechanisms;
// external identities must not be linked under them.
var reservedServiceNames = map[string]bool{
	"resume":   true,
	"password": true,
}

// Service orchestrates the credential lifecycle against the identity store.
type Service struct {
	log      *slog.Logger
	store    identity.Store
	issuer   *Issuer
	registry *Registry

	now func() time.Time
}

// NewService constructs the accounts service.
func NewService(log *slog.Logger, store identity.Store, issuer *Issuer, registry *Registry) *Service {
	return &Service{
		log:      log,
		store:    store,
		issuer:   issuer,
		registry: registry,
	}
}

// Issuer returns the token issuer the service mints with.
func (s *Service) Issuer() *Issuer { return s.issuer }

// CreateIdentityInput describes a new-identity request.
type CreateIdentityInput struct {
	Username *string
	Emails   []identity.Email
	Profile  map[string]any
	Services map[string]identity.ServiceData

	// GenerateLoginToken requests a stamped token to be minted and attached
	// at creation time so the caller is logged in immediately.
	GenerateLoginToken bool
}

// CreateIdentity runs the full creation pipeline:
//
//  1. Build a fresh partial record from the caller's input (cloned, never
//     aliased), stamping createdAt and a new id.
//  2. Mint and attach a login token when requested.
//  3. Apply the creation hook (or the default profile merge).
//  4. Run every validation hook against the final shape.
//  5. Insert — the single point where uniqueness is enforced; store
//     conflicts translate to ErrEmailExists / ErrUsernameExists, any other
//     constraint conflict is re-raised unmapped.
//
// Validation deliberately runs after the hook so it sees the post-hook
// record, and there is no existence pre-check before the insert.
func (s *Service) CreateIdentity(ctx context.Context, in CreateIdentityInput) (LoginResult, error) {
	now := s.clock()

	id, err := identity.NewULID(now)
	if err != nil {
		return LoginResult{}, err
	}

	rec := identity.Record{
		ID:        id,
		CreatedAt: now,
		Username:  in.Username,
		Emails:    in.Emails,
		Profile:   nil, // profile is merged by the creation hook
		Services:  in.Services,
	}.Clone()

	var minted *identity.StampedToken
	if in.GenerateLoginToken {
		st, err := s.issuer.Mint(now)
		if err != nil {
			return LoginResult{}, err
		}
		rec.LoginTokens = []identity.StampedToken{st}
		minted = &st
	}

	hook := s.registry.CreationHook()
	if hook == nil {
		hook = defaultCreationHook
	}
	rec = hook(in, rec)

	for _, validate := range s.registry.ValidationHooks() {
		if !validate(rec) {
			return LoginResult{}, ErrValidationFailed
		}
	}

	inserted, err := s.store.Insert(ctx, rec)
	if err != nil {
		return LoginResult{}, translateConflict(err)
	}

	s.log.Info("accounts.identity.created", "user_id", inserted.ID, "with_token", minted != nil)

	out := LoginResult{UserID: inserted.ID}
	if minted != nil {
		out.Token = minted.Token
		expires := s.issuer.ExpiryOf(minted.When)
		out.TokenExpires = &expires
	}
	return out, nil
}

// defaultCreationHook merges options.profile and nothing else.
func defaultCreationHook(opts CreateIdentityInput, rec identity.Record) identity.Record {
	if len(opts.Profile) == 0 {
		return rec
	}
	if rec.Profile == nil {
		rec.Profile = make(map[string]any, len(opts.Profile))
	}
	for k, v := range opts.Profile {
		rec.Profile[k] = v
	}
	return rec
}

// LinkExternalIdentity logs in via an external provider identity,
// creating the identity record on first sight.
//
// When a record already holds this provider id, the stored provider data is
// overwritten wholesale (stale cached fields such as expired access tokens
// must not survive) and the caller-supplied opts are intentionally ignored.
// Otherwise the full creation pipeline runs with a generated login token.
func (s *Service) LinkExternalIdentity(ctx context.Context, provider string, data identity.ServiceData, opts CreateIdentityInput) (LoginResult, error) {
	const op = "accounts.LinkExternalIdentity"

	if provider == "" || reservedServiceNames[provider] {
		return LoginResult{}, identity.OpError{Op: op, Kind: identity.ErrInvalidInput, Msg: "reserved or empty provider name"}
	}
	providerID, ok := serviceIDString(data["id"])
	if !ok {
		return LoginResult{}, identity.OpError{Op: op, Kind: identity.ErrInvalidInput, Msg: "provider data missing id"}
	}

	rec, err := s.store.FindByServiceID(ctx, provider, providerID)
	switch {
	case err == nil:
		st, err := s.issuer.Mint(s.clock())
		if err != nil {
			return LoginResult{}, err
		}
		if err := s.store.SetService(ctx, rec.ID, provider, data); err != nil {
			return LoginResult{}, err
		}
		if err := s.store.AddLoginToken(ctx, rec.ID, st); err != nil {
			return LoginResult{}, err
		}

		s.log.Info("accounts.identity.linked", "user_id", rec.ID, "provider", provider)

		expires := s.issuer.ExpiryOf(st.When)
		return LoginResult{UserID: rec.ID, Token: st.Token, TokenExpires: &expires}, nil

	case identity.IsNotFound(err):
		created := opts
		// Never write into the caller's map.
		services := make(map[string]identity.ServiceData, len(opts.Services)+1)
		for name, d := range opts.Services {
			services[name] = d
		}
		services[provider] = data
		created.Services = services
		created.GenerateLoginToken = true
		return s.CreateIdentity(ctx, created)

	default:
		return LoginResult{}, err
	}
}

// translateConflict maps structured store conflicts to the accounts
// taxonomy. Conflicts on constraints this layer does not own propagate
// unchanged — fail loud rather than mask.
func translateConflict(err error) error {
	switch identity.ConflictField(err) {
	case "email":
		return ErrEmailExists
	case "username":
		return ErrUsernameExists
	default:
		return err
	}
}

func (s *Service) clock() time.Time {
	if s.now != nil {
		return s.now()
	}
	return time.Now().UTC()
}
