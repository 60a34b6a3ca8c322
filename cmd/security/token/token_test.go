package token

import (
	"encoding/base64"
	"testing"
)

func TestNewOpaque(t *testing.T) {
	t.Parallel()

	a, err := NewOpaque(DefaultBytes)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	b, err := NewOpaque(DefaultBytes)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if a == b {
		t.Fatalf("two tokens collided")
	}

	raw, err := base64.RawURLEncoding.DecodeString(a)
	if err != nil {
		t.Fatalf("token is not base64url: %v", err)
	}
	if len(raw) != DefaultBytes {
		t.Fatalf("entropy=%d bytes want=%d", len(raw), DefaultBytes)
	}
}

func TestNewOpaqueDefaultsSize(t *testing.T) {
	t.Parallel()

	tok, err := NewOpaque(0)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	raw, err := base64.RawURLEncoding.DecodeString(tok)
	if err != nil || len(raw) != DefaultBytes {
		t.Fatalf("default size wrong: %d bytes err=%v", len(raw), err)
	}
}
