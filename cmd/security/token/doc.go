// Package token provides the opaque random-token primitive for Quay.
//
// Session credentials are bearer strings with no internal structure: no
// signing, no embedded claims. All validity comes from the token's presence
// in the identity store, so the only job of this package is to produce
// strings with enough entropy that collisions never happen in practice.
package token
