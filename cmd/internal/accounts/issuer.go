package accounts

import (
	"time"

	"quay/cmd/identity"
	"quay/cmd/security/token"
)

// Issuer mints stamped login tokens and computes their expiry.
//
// Tokens are opaque random strings; collisions are not handled here but
// surface loudly through the store's unique token constraint.
type Issuer struct {
	lifetime time.Duration
}

// NewIssuer constructs an Issuer. A non-positive lifetime falls back to the
// default configuration.
func NewIssuer(lifetime time.Duration) *Issuer {
	if lifetime <= 0 {
		lifetime = DefaultConfig().LoginTokenLifetime
	}
	return &Issuer{lifetime: lifetime}
}

// Lifetime returns the configured token lifetime.
func (i *Issuer) Lifetime() time.Duration { return i.lifetime }

// Mint produces a fresh stamped token issued at now.
func (i *Issuer) Mint(now time.Time) (identity.StampedToken, error) {
	if now.IsZero() {
		now = time.Now().UTC()
	}
	t, err := token.NewOpaque(token.DefaultBytes)
	if err != nil {
		return identity.StampedToken{}, err
	}
	return identity.StampedToken{Token: t, When: now}, nil
}

// ExpiryOf returns when a token stamped at when stops being valid.
// Pure: strictly increasing in when, deterministic for a fixed lifetime.
func (i *Issuer) ExpiryOf(when time.Time) time.Time {
	return when.Add(i.lifetime)
}
