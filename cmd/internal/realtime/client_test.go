package realtime

import "testing"

func TestClientBinding(t *testing.T) {
	t.Parallel()

	c := NewClient("conn-1", 8)
	if c.UserID() != "" || c.LoginToken() != "" {
		t.Fatalf("fresh client carries a binding")
	}

	c.Bind("u1", "tok")
	if c.UserID() != "u1" || c.LoginToken() != "tok" {
		t.Fatalf("binding not stored")
	}

	c.ClearBinding()
	if c.UserID() != "" || c.LoginToken() != "" {
		t.Fatalf("binding survived clear")
	}
}

func TestClientCloseIdempotent(t *testing.T) {
	t.Parallel()

	c := NewClient("conn-1", 8)
	c.Close()
	c.Close() // must not panic

	select {
	case <-c.Done():
	default:
		t.Fatalf("done not signaled")
	}
}

func TestClientEvictKeepsFirstReason(t *testing.T) {
	t.Parallel()

	c := NewClient("conn-1", 8)
	c.Evict("first")
	c.Evict("second")

	if got := c.EvictedFor(); got != "first" {
		t.Fatalf("reason=%q want first", got)
	}
	select {
	case <-c.Done():
	default:
		t.Fatalf("evicted client not signaled")
	}
}

func TestEnvelopeValidate(t *testing.T) {
	t.Parallel()

	if err := (Envelope{}).Validate(); err == nil {
		t.Fatalf("empty type accepted")
	}
	if err := (Envelope{Type: TypeLogin}).Validate(); err != nil {
		t.Fatalf("valid envelope rejected: %v", err)
	}
}
