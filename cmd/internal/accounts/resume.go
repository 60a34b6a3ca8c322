package accounts

import (
	"context"
	"time"

	"quay/cmd/identity"
)

// ResumeHandler authenticates by a previously issued stamped token.
//
// It claims any request carrying a "resume" string. The same token is
// echoed back on success; resume never rotates credentials.
type ResumeHandler struct {
	store  identity.Store
	issuer *Issuer

	// now is overridable in tests; zero value means time.Now.
	now func() time.Time
}

// NewResumeHandler constructs the built-in resume login handler.
func NewResumeHandler(store identity.Store, issuer *Issuer) *ResumeHandler {
	return &ResumeHandler{store: store, issuer: issuer}
}

// Name implements LoginHandler.
func (h *ResumeHandler) Name() string { return "resume" }

// Attempt implements LoginHandler.
func (h *ResumeHandler) Attempt(ctx context.Context, req LoginRequest) (*LoginResult, bool, error) {
	presented, ok := req.StringField("resume")
	if !ok {
		return nil, false, nil
	}

	rec, st, err := h.store.FindByLoginToken(ctx, presented)
	if err != nil {
		if identity.IsNotFound(err) {
			return nil, true, ErrSessionRevoked
		}
		return nil, true, err
	}

	expires := h.issuer.ExpiryOf(st.When)
	if !h.clock().Before(expires) {
		return nil, true, ErrSessionExpired
	}

	return &LoginResult{
		UserID:       rec.ID,
		Token:        st.Token,
		TokenExpires: &expires,
	}, true, nil
}

func (h *ResumeHandler) clock() time.Time {
	if h.now != nil {
		return h.now()
	}
	return time.Now().UTC()
}
