// Package accounts implements Quay's credential lifecycle core.
//
// It covers the login-handler dispatch chain, the stamped-token lifecycle
// (mint, expire, revoke), identity creation with its hook pipeline, the
// periodic expiry sweeper, and the reactive connection evictor that closes
// live connections once their token leaves the identity record.
//
// The package never takes a cross-connection lock: atomicity requirements
// are pushed down into single identity.Store operations, and the sweeper
// and evictor converge eventually on their own timers.
package accounts
