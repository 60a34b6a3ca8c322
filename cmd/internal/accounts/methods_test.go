package accounts

import (
	"context"
	"errors"
	"testing"
	"time"

	"quay/cmd/identity"
)

// fakeSession is an in-test Session binding.
type fakeSession struct {
	userID string
	token  string
}

func (s *fakeSession) UserID() string     { return s.userID }
func (s *fakeSession) LoginToken() string { return s.token }
func (s *fakeSession) Bind(userID, token string) {
	s.userID = userID
	s.token = token
}
func (s *fakeSession) ClearBinding() { s.Bind("", "") }

func TestLoginBindsSession(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	registry := NewRegistry()
	registry.Register(&stubHandler{name: "stub", claims: true, res: &LoginResult{UserID: "u1", Token: "tok-1"}})
	svc := newTestService(identity.NewMemoryStore(), registry)

	sess := &fakeSession{}
	res, err := svc.Login(ctx, sess, LoginRequest{})
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	if res.UserID != "u1" {
		t.Fatalf("result=%+v", res)
	}
	if sess.userID != "u1" || sess.token != "tok-1" {
		t.Fatalf("session not bound: %+v", sess)
	}
}

func TestLoginAbandonedFlowBindsNothing(t *testing.T) {
	t.Parallel()

	registry := NewRegistry()
	registry.Register(&stubHandler{name: "interactive", claims: true, res: nil})
	svc := newTestService(identity.NewMemoryStore(), registry)

	sess := &fakeSession{}
	res, err := svc.Login(context.Background(), sess, LoginRequest{})
	if err != nil || res != nil {
		t.Fatalf("res=%v err=%v want nil,nil", res, err)
	}
	if sess.userID != "" {
		t.Fatalf("abandoned flow bound a session: %+v", sess)
	}
}

func TestLogoutRemovesExactlyOneToken(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	store := identity.NewMemoryStore()
	now := time.Now().UTC()
	if _, err := store.Insert(ctx, identity.Record{
		ID: "u1",
		LoginTokens: []identity.StampedToken{
			{Token: "tok-a", When: now},
			{Token: "tok-b", When: now},
		},
	}); err != nil {
		t.Fatalf("seed: %v", err)
	}

	svc := newTestService(store, nil)
	sess := &fakeSession{userID: "u1", token: "tok-a"}

	if err := svc.Logout(ctx, sess); err != nil {
		t.Fatalf("logout: %v", err)
	}
	if sess.userID != "" || sess.token != "" {
		t.Fatalf("binding survived logout: %+v", sess)
	}

	rec, _ := store.GetByID(ctx, "u1")
	if rec.HasLoginToken("tok-a") {
		t.Fatalf("own token survived logout")
	}
	if !rec.HasLoginToken("tok-b") {
		t.Fatalf("other session's token was removed")
	}
}

func TestLogoutWithoutBindingIsNoop(t *testing.T) {
	t.Parallel()

	svc := newTestService(identity.NewMemoryStore(), nil)
	if err := svc.Logout(context.Background(), &fakeSession{}); err != nil {
		t.Fatalf("logout: %v", err)
	}
}

func TestLogoutTolerationOfDeletedRecord(t *testing.T) {
	t.Parallel()

	// Binding points at a record that no longer exists: still a clean logout.
	svc := newTestService(identity.NewMemoryStore(), nil)
	sess := &fakeSession{userID: "gone", token: "tok"}
	if err := svc.Logout(context.Background(), sess); err != nil {
		t.Fatalf("logout: %v", err)
	}
	if sess.userID != "" {
		t.Fatalf("binding survived: %+v", sess)
	}
}

func TestLogoutAllOthers(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	store := identity.NewMemoryStore()
	now := time.Now().UTC()
	if _, err := store.Insert(ctx, identity.Record{
		ID: "u1",
		LoginTokens: []identity.StampedToken{
			{Token: "tok-a", When: now},
			{Token: "tok-b", When: now},
			{Token: "tok-c", When: now},
		},
	}); err != nil {
		t.Fatalf("seed: %v", err)
	}

	svc := newTestService(store, nil)
	sess := &fakeSession{userID: "u1", token: "tok-b"}

	res, err := svc.LogoutAllOthers(ctx, sess)
	if err != nil {
		t.Fatalf("logout all others: %v", err)
	}
	if res.Token == "" || res.Token == "tok-b" {
		t.Fatalf("expected a fresh token, got %q", res.Token)
	}
	if sess.token != res.Token {
		t.Fatalf("caller not rebound to the fresh token")
	}

	rec, _ := store.GetByID(ctx, "u1")
	if len(rec.LoginTokens) != 1 || rec.LoginTokens[0].Token != res.Token {
		t.Fatalf("token set after replace: %+v", rec.LoginTokens)
	}
}

func TestLogoutAllOthersRequiresAuth(t *testing.T) {
	t.Parallel()

	svc := newTestService(identity.NewMemoryStore(), nil)
	_, err := svc.LogoutAllOthers(context.Background(), &fakeSession{})
	if !errors.Is(err, ErrNotAuthenticated) {
		t.Fatalf("err=%v want ErrNotAuthenticated", err)
	}
}

func TestConfigureLoginService(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	store := identity.NewMemoryStore()
	registry := NewRegistry()
	registry.Register(&stubHandler{name: "oauth-acme"})
	svc := newTestService(store, registry)

	conf := map[string]any{
		"clientId":     "abc",
		"secret":       "s3cr3t",
		"clientSecret": "cs",
		"scope":        "basic",
	}
	if err := svc.ConfigureLoginService(ctx, "oauth-acme", conf); err != nil {
		t.Fatalf("configure: %v", err)
	}

	// Secrets are withheld from the public projection.
	public, err := svc.PublicServiceConfigs(ctx)
	if err != nil || len(public) != 1 {
		t.Fatalf("public configs: %+v err=%v", public, err)
	}
	got := public[0]
	if got.Service != "oauth-acme" {
		t.Fatalf("service=%q", got.Service)
	}
	if got.Config["clientId"] != "abc" || got.Config["scope"] != "basic" {
		t.Fatalf("public fields missing: %+v", got.Config)
	}
	for _, k := range []string{"secret", "clientSecret", "privateKey"} {
		if _, ok := got.Config[k]; ok {
			t.Fatalf("secret field %q leaked into public config", k)
		}
	}

	// Both halves landed in the store.
	stored, err := store.GetServiceConfig(ctx, "oauth-acme")
	if err != nil {
		t.Fatalf("get config: %v", err)
	}
	if stored.Secrets["secret"] != "s3cr3t" || stored.Secrets["clientSecret"] != "cs" {
		t.Fatalf("secrets not stored: %+v", stored.Secrets)
	}

	// One-time write.
	err = svc.ConfigureLoginService(ctx, "oauth-acme", conf)
	if !errors.Is(err, ErrServiceAlreadyConfigured) {
		t.Fatalf("second configure: %v want ErrServiceAlreadyConfigured", err)
	}
}

func TestConfigureLoginServiceUnknown(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	registry := NewRegistry()
	registry.Register(&stubHandler{name: "resume"})
	svc := newTestService(identity.NewMemoryStore(), registry)

	for _, service := range []string{"", "resume", "never-registered"} {
		err := svc.ConfigureLoginService(ctx, service, map[string]any{})
		if !errors.Is(err, ErrServiceUnknown) {
			t.Fatalf("service=%q err=%v want ErrServiceUnknown", service, err)
		}
	}
}

func TestUserView(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	store := identity.NewMemoryStore()
	if _, err := store.Insert(ctx, identity.Record{
		ID:       "u1",
		Username: strPtr("ada"),
		Emails:   []identity.Email{{Address: "ada@example.com", Verified: true}},
		Profile:  map[string]any{"display": "Ada"},
		Services: map[string]identity.ServiceData{"password": {"hash": "x"}},
		LoginTokens: []identity.StampedToken{
			{Token: "tok", When: time.Now()},
		},
	}); err != nil {
		t.Fatalf("seed: %v", err)
	}

	svc := newTestService(store, nil)
	view, err := svc.UserView(ctx, "u1")
	if err != nil {
		t.Fatalf("user view: %v", err)
	}
	if view.ID != "u1" || view.Username == nil || *view.Username != "ada" {
		t.Fatalf("view=%+v", view)
	}
	if view.Profile["display"] != "Ada" || len(view.Emails) != 1 {
		t.Fatalf("view=%+v", view)
	}
}
