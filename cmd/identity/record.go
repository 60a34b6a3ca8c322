package identity

import "time"

// StampedToken is a bearer credential paired with its issue timestamp.
// The token string is globally unique across the whole store; its presence
// in a record's token set is the sole authority for "this credential is
// still valid".
type StampedToken struct {
	Token string    `json:"token"`
	When  time.Time `json:"when"`
}

// Email is an address attached to an identity. Addresses are globally
// unique when present (sparse uniqueness).
type Email struct {
	Address  string `json:"address"`
	Verified bool   `json:"verified"`
}

// ServiceData is provider-specific data stored under a provider name
// (e.g. "password", "oauth-acme").
type ServiceData map[string]any

// Record is Quay's canonical identity record.
//
// The accounts core mutates it only through the Store API and never holds
// it in memory long-term; Store implementations hand out snapshots.
type Record struct {
	ID        string
	CreatedAt time.Time

	Username *string
	Emails   []Email
	Profile  map[string]any

	// Services maps provider name to provider-specific data. The internal
	// resume mechanism does not live here; its token set is LoginTokens.
	Services map[string]ServiceData

	// LoginTokens is the resume-token set. Insertion order has no semantic
	// meaning; membership does.
	LoginTokens []StampedToken
}

// HasLoginToken reports whether token is a member of the record's token set.
func (r Record) HasLoginToken(token string) bool {
	for _, t := range r.LoginTokens {
		if t.Token == token {
			return true
		}
	}
	return false
}

// LoginToken returns the stamped token matching the given token string.
func (r Record) LoginToken(token string) (StampedToken, bool) {
	for _, t := range r.LoginTokens {
		if t.Token == token {
			return t, true
		}
	}
	return StampedToken{}, false
}

// Clone returns an independent copy of the record. Slice and map containers
// are copied one level deep, which is enough for callers that replace
// values rather than mutating nested ones.
func (r Record) Clone() Record {
	out := r

	if r.Emails != nil {
		out.Emails = make([]Email, len(r.Emails))
		copy(out.Emails, r.Emails)
	}
	if r.LoginTokens != nil {
		out.LoginTokens = make([]StampedToken, len(r.LoginTokens))
		copy(out.LoginTokens, r.LoginTokens)
	}
	if r.Profile != nil {
		out.Profile = make(map[string]any, len(r.Profile))
		for k, v := range r.Profile {
			out.Profile[k] = v
		}
	}
	if r.Services != nil {
		out.Services = make(map[string]ServiceData, len(r.Services))
		for name, data := range r.Services {
			d := make(ServiceData, len(data))
			for k, v := range data {
				d[k] = v
			}
			out.Services[name] = d
		}
	}

	return out
}

// PublicView is the record projection published to the record's own
// connection: identity metadata only, never services or tokens.
type PublicView struct {
	ID       string         `json:"id"`
	Username *string        `json:"username,omitempty"`
	Emails   []Email        `json:"emails,omitempty"`
	Profile  map[string]any `json:"profile,omitempty"`
}

// Public returns the caller-visible projection of the record.
func (r Record) Public() PublicView {
	c := r.Clone()
	return PublicView{
		ID:       c.ID,
		Username: c.Username,
		Emails:   c.Emails,
		Profile:  c.Profile,
	}
}

// ServiceConfig is the one-time configuration of an external login service.
// Secrets never leave the store boundary; Public carries the fields that
// may be published to clients (e.g. an OAuth client id).
type ServiceConfig struct {
	Service   string
	Secrets   map[string]any
	Public    map[string]any
	CreatedAt time.Time
}
