// Package identity implements Quay's identity persistence foundation.
//
// It defines the identity Record model (profile, emails, external service
// data, stamped login tokens), the Store boundary the accounts core talks
// to, and the watcher primitive that notifies subscribers about record
// changes and removals.
//
// Two Store implementations exist: a Postgres store for production and an
// in-memory store for dev mode and tests.
package identity
