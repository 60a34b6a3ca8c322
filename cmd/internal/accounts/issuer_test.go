package accounts

import (
	"testing"
	"time"
)

func TestIssuerMint(t *testing.T) {
	t.Parallel()

	iss := NewIssuer(time.Hour)
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	a, err := iss.Mint(now)
	if err != nil {
		t.Fatalf("mint: %v", err)
	}
	b, err := iss.Mint(now)
	if err != nil {
		t.Fatalf("mint: %v", err)
	}

	if a.Token == "" || b.Token == "" {
		t.Fatalf("empty token minted")
	}
	if a.Token == b.Token {
		t.Fatalf("two mints produced the same token")
	}
	if !a.When.Equal(now) {
		t.Fatalf("stamp=%v want=%v", a.When, now)
	}
}

func TestIssuerExpiryOf(t *testing.T) {
	t.Parallel()

	iss := NewIssuer(1000 * time.Second)
	when := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	got := iss.ExpiryOf(when)
	want := when.Add(1000 * time.Second)
	if !got.Equal(want) {
		t.Fatalf("expiry=%v want=%v", got, want)
	}

	// Deterministic and strictly increasing in the stamp.
	if !iss.ExpiryOf(when).Equal(got) {
		t.Fatalf("expiry not deterministic")
	}
	later := iss.ExpiryOf(when.Add(time.Second))
	if !later.After(got) {
		t.Fatalf("expiry not increasing: %v then %v", got, later)
	}
}

func TestIssuerDefaultLifetime(t *testing.T) {
	t.Parallel()

	iss := NewIssuer(0)
	if iss.Lifetime() != DefaultConfig().LoginTokenLifetime {
		t.Fatalf("lifetime=%v want default %v", iss.Lifetime(), DefaultConfig().LoginTokenLifetime)
	}
}
