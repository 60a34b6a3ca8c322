package accounts

import (
	"context"
	"errors"
	"testing"

	"quay/cmd/identity"
)

// stubHandler is a scripted LoginHandler for dispatch tests.
type stubHandler struct {
	name   string
	claims bool
	res    *LoginResult
	err    error
	called int
}

func (h *stubHandler) Name() string { return h.name }

func (h *stubHandler) Attempt(_ context.Context, _ LoginRequest) (*LoginResult, bool, error) {
	h.called++
	if !h.claims {
		return nil, false, nil
	}
	return h.res, true, h.err
}

func TestDispatchFirstClaimWins(t *testing.T) {
	t.Parallel()

	first := &stubHandler{name: "first"}
	second := &stubHandler{name: "second", claims: true, res: &LoginResult{UserID: "u1"}}
	third := &stubHandler{name: "third", claims: true, res: &LoginResult{UserID: "u2"}}

	r := NewRegistry()
	r.Register(first)
	r.Register(second)
	r.Register(third)

	res, err := r.Dispatch(context.Background(), LoginRequest{})
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if res == nil || res.UserID != "u1" {
		t.Fatalf("result=%+v want u1", res)
	}
	if third.called != 0 {
		t.Fatalf("later handler was tried after a claim")
	}
}

func TestDispatchErrorAborts(t *testing.T) {
	t.Parallel()

	boom := errors.New("boom")
	r := NewRegistry()
	r.Register(&stubHandler{name: "failing", claims: true, err: boom})
	after := &stubHandler{name: "after", claims: true, res: &LoginResult{UserID: "u1"}}
	r.Register(after)

	_, err := r.Dispatch(context.Background(), LoginRequest{})
	if !errors.Is(err, boom) {
		t.Fatalf("err=%v want boom", err)
	}
	if after.called != 0 {
		t.Fatalf("dispatch continued past an error")
	}
}

func TestDispatchUnrecognized(t *testing.T) {
	t.Parallel()

	r := NewRegistry()
	r.Register(&stubHandler{name: "silent"})

	_, err := r.Dispatch(context.Background(), LoginRequest{"weird": true})
	if !errors.Is(err, ErrUnrecognizedLoginRequest) {
		t.Fatalf("err=%v want ErrUnrecognizedLoginRequest", err)
	}
}

func TestDispatchClaimedNilResult(t *testing.T) {
	t.Parallel()

	r := NewRegistry()
	r.Register(&stubHandler{name: "interactive", claims: true, res: nil})

	res, err := r.Dispatch(context.Background(), LoginRequest{})
	if err != nil || res != nil {
		t.Fatalf("res=%v err=%v want nil,nil", res, err)
	}
}

func TestCreationHookSetOnce(t *testing.T) {
	t.Parallel()

	r := NewRegistry()
	hook := func(_ CreateIdentityInput, rec identity.Record) identity.Record { return rec }

	if err := r.SetCreationHook(hook); err != nil {
		t.Fatalf("first set: %v", err)
	}
	if err := r.SetCreationHook(hook); !errors.Is(err, ErrCreationHookSet) {
		t.Fatalf("second set: %v want ErrCreationHookSet", err)
	}
}

func TestHasHandler(t *testing.T) {
	t.Parallel()

	r := NewRegistry()
	r.Register(&stubHandler{name: "password"})

	if !r.HasHandler("password") {
		t.Fatalf("registered handler not found")
	}
	if r.HasHandler("oauth-acme") {
		t.Fatalf("unregistered handler reported present")
	}
}
