package accounts

import (
	"context"
	"strings"
	"time"

	"quay/cmd/identity"
	"quay/cmd/security/password"
)

// PasswordHandler authenticates by username-or-email plus password.
//
// It claims requests carrying both "user" and "password" strings. The
// Argon2id hash lives under services.password.hash; hashing policy is owned
// by cmd/security/password. On success a fresh stamped token is minted and
// appended to the record's token set.
type PasswordHandler struct {
	store  identity.Store
	issuer *Issuer
	hasher password.Config

	now func() time.Time
}

// NewPasswordHandler constructs the password login handler.
func NewPasswordHandler(store identity.Store, issuer *Issuer, hasher password.Config) *PasswordHandler {
	return &PasswordHandler{store: store, issuer: issuer, hasher: hasher}
}

// Name implements LoginHandler.
func (h *PasswordHandler) Name() string { return "password" }

// Attempt implements LoginHandler.
//
// Lookup failure, a record without password credentials, and a hash
// mismatch all collapse into ErrIncorrectCredentials so the response shape
// cannot be used to probe which usernames exist.
func (h *PasswordHandler) Attempt(ctx context.Context, req LoginRequest) (*LoginResult, bool, error) {
	user, okUser := req.StringField("user")
	pw, okPw := req.StringField("password")
	if !okUser || !okPw {
		return nil, false, nil
	}

	rec, err := h.lookup(ctx, user)
	if err != nil {
		if identity.IsNotFound(err) {
			return nil, true, ErrIncorrectCredentials
		}
		return nil, true, err
	}

	hash, _ := rec.Services["password"]["hash"].(string)
	if hash == "" {
		return nil, true, ErrIncorrectCredentials
	}

	match, err := h.hasher.Verify(hash, pw)
	if err != nil || !match {
		return nil, true, ErrIncorrectCredentials
	}

	st, err := h.issuer.Mint(h.clock())
	if err != nil {
		return nil, true, err
	}
	if err := h.store.AddLoginToken(ctx, rec.ID, st); err != nil {
		return nil, true, err
	}

	expires := h.issuer.ExpiryOf(st.When)
	return &LoginResult{
		UserID:       rec.ID,
		Token:        st.Token,
		TokenExpires: &expires,
	}, true, nil
}

func (h *PasswordHandler) lookup(ctx context.Context, user string) (identity.Record, error) {
	if strings.Contains(user, "@") {
		return h.store.FindByEmail(ctx, user)
	}
	return h.store.FindByUsername(ctx, user)
}

func (h *PasswordHandler) clock() time.Time {
	if h.now != nil {
		return h.now()
	}
	return time.Now().UTC()
}
