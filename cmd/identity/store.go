package identity

import (
	"context"
	"time"
)

// Store is the identity persistence boundary.
//
// Uniqueness is enforced by the store itself (constraints, not
// check-then-act): username, email address and login token are each
// globally unique, username and email sparsely so. Violations surface as
// ConflictError with a stable Field.
//
// Token-set mutations are single atomic operations (add one, remove one,
// replace all, bulk sweep) so callers never need a read-modify-write cycle.
//
// Implementations notify registered Watchers after each successful mutation
// that changed a record, with pre- and post-mutation snapshots.
type Store interface {
	// Insert persists a fully built record. It is the single point where
	// uniqueness is enforced for creation.
	Insert(ctx context.Context, rec Record) (Record, error)

	GetByID(ctx context.Context, id string) (Record, error)
	FindByUsername(ctx context.Context, username string) (Record, error)
	FindByEmail(ctx context.Context, address string) (Record, error)

	// FindByLoginToken resolves the record whose token set contains token,
	// returning the matching stamped token as well.
	FindByLoginToken(ctx context.Context, token string) (Record, StampedToken, error)

	// FindByServiceID resolves the record where services.<service>.id equals
	// providerID. Historical records may hold the provider id as a JSON
	// number rather than a string; implementations match either form.
	FindByServiceID(ctx context.Context, service, providerID string) (Record, error)

	AddLoginToken(ctx context.Context, userID string, t StampedToken) error
	RemoveLoginToken(ctx context.Context, userID, token string) error

	// ReplaceLoginTokens atomically swaps the record's entire token set for
	// the single token t. Used by logout-all-others; atomicity here is what
	// prevents lost updates against a concurrent login.
	ReplaceLoginTokens(ctx context.Context, userID string, t StampedToken) error

	// SetService overwrites services.<service> wholesale with data.
	// Stale fields from a previous payload must not survive.
	SetService(ctx context.Context, userID, service string, data ServiceData) error

	// SweepLoginTokens removes, from every record, every token with
	// When < cutoff. Returns the number of tokens removed. Safe to run
	// concurrently with logins and idempotent for a fixed cutoff.
	SweepLoginTokens(ctx context.Context, cutoff time.Time) (int64, error)

	Remove(ctx context.Context, userID string) error

	// Login-service configuration (one-time writes).
	InsertServiceConfig(ctx context.Context, cfg ServiceConfig) error
	GetServiceConfig(ctx context.Context, service string) (ServiceConfig, error)
	ListServiceConfigs(ctx context.Context) ([]ServiceConfig, error)

	// Watch registers w for change/removal notifications. The returned
	// cancel func unregisters it.
	Watch(w Watcher) (cancel func())

	Close() error
}
