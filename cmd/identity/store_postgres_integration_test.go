package identity

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Integration tests are opt-in and require QUAY_DATABASE_URL.
// In non-CI runs, unreachable Postgres skips these tests to keep local runs fast.

func TestPostgresStore_InsertConflictTranslation(t *testing.T) {
	t.Parallel()

	pool := mustOpenTestPool(t)
	defer pool.Close()

	schema := mustCreateTestSchema(t, pool)
	t.Cleanup(func() { mustDropSchema(t, pool, schema) })
	mustApplyQuaySchema(t, pool, schema)

	s := mustNewQuayStore(t, pool, schema)

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if _, err := s.Insert(ctx, pgTestRecord(t, func(rec *Record) {
		u := "Navid"
		rec.Username = &u
		rec.Emails = []Email{{Address: "User@Example.com"}}
		rec.LoginTokens = []StampedToken{{Token: "tok-seed", When: time.Now().UTC()}}
	})); err != nil {
		t.Fatalf("seed insert: %v", err)
	}

	// Same username, different case, should conflict on the username field.
	_, err := s.Insert(ctx, pgTestRecord(t, func(rec *Record) {
		u := "nAvId"
		rec.Username = &u
	}))
	if !IsConflict(err) || ConflictField(err) != "username" {
		t.Fatalf("username conflict: err=%v field=%q", err, ConflictField(err))
	}

	// Same email, different case.
	_, err = s.Insert(ctx, pgTestRecord(t, func(rec *Record) {
		rec.Emails = []Email{{Address: "user@example.COM"}}
	}))
	if !IsConflict(err) || ConflictField(err) != "email" {
		t.Fatalf("email conflict: err=%v field=%q", err, ConflictField(err))
	}

	// Token uniqueness is global across records.
	_, err = s.Insert(ctx, pgTestRecord(t, func(rec *Record) {
		rec.LoginTokens = []StampedToken{{Token: "tok-seed", When: time.Now().UTC()}}
	}))
	if !IsConflict(err) || ConflictField(err) != "login_token" {
		t.Fatalf("token conflict: err=%v field=%q", err, ConflictField(err))
	}
}

func TestPostgresStore_ReplaceLoginTokens_AtomicSwap(t *testing.T) {
	t.Parallel()

	pool := mustOpenTestPool(t)
	defer pool.Close()

	schema := mustCreateTestSchema(t, pool)
	t.Cleanup(func() { mustDropSchema(t, pool, schema) })
	mustApplyQuaySchema(t, pool, schema)

	s := mustNewQuayStore(t, pool, schema)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	now := time.Now().UTC().Truncate(time.Microsecond)
	rec, err := s.Insert(ctx, pgTestRecord(t, func(rec *Record) {
		rec.LoginTokens = []StampedToken{
			{Token: "tok-a", When: now.Add(-2 * time.Hour)},
			{Token: "tok-b", When: now.Add(-time.Hour)},
		}
	}))
	if err != nil {
		t.Fatalf("insert: %v", err)
	}

	w := &recordingWatcher{}
	cancelWatch := s.Watch(w)
	defer cancelWatch()

	fresh := StampedToken{Token: "tok-fresh", When: now}
	if err := s.ReplaceLoginTokens(ctx, rec.ID, fresh); err != nil {
		t.Fatalf("replace: %v", err)
	}

	got, err := s.GetByID(ctx, rec.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if len(got.LoginTokens) != 1 || got.LoginTokens[0].Token != "tok-fresh" {
		t.Fatalf("token set not swapped: %+v", got.LoginTokens)
	}

	// Watcher sees a consistent before/after pair from the same transaction.
	if len(w.changed) != 1 {
		t.Fatalf("changed notifications=%d want=1", len(w.changed))
	}
	old, updated := w.changed[0][0], w.changed[0][1]
	if !old.HasLoginToken("tok-a") || !old.HasLoginToken("tok-b") || old.HasLoginToken("tok-fresh") {
		t.Fatalf("old snapshot wrong: %+v", old.LoginTokens)
	}
	if !updated.HasLoginToken("tok-fresh") || len(updated.LoginTokens) != 1 {
		t.Fatalf("new snapshot wrong: %+v", updated.LoginTokens)
	}

	if err := s.ReplaceLoginTokens(ctx, "01AAAAAAAAAAAAAAAAAAAAAAAA", fresh); !IsNotFound(err) {
		t.Fatalf("missing record: err=%v want not found", err)
	}
}

func TestPostgresStore_SweepLoginTokens(t *testing.T) {
	t.Parallel()

	pool := mustOpenTestPool(t)
	defer pool.Close()

	schema := mustCreateTestSchema(t, pool)
	t.Cleanup(func() { mustDropSchema(t, pool, schema) })
	mustApplyQuaySchema(t, pool, schema)

	s := mustNewQuayStore(t, pool, schema)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	now := time.Now().UTC().Truncate(time.Microsecond)
	a, err := s.Insert(ctx, pgTestRecord(t, func(rec *Record) {
		rec.LoginTokens = []StampedToken{
			{Token: "a-old-1", When: now.Add(-3 * time.Hour)},
			{Token: "a-old-2", When: now.Add(-2 * time.Hour)},
			{Token: "a-live", When: now},
		}
	}))
	if err != nil {
		t.Fatalf("insert a: %v", err)
	}
	if _, err := s.Insert(ctx, pgTestRecord(t, func(rec *Record) {
		rec.LoginTokens = []StampedToken{{Token: "b-old", When: now.Add(-2 * time.Hour)}}
	})); err != nil {
		t.Fatalf("insert b: %v", err)
	}

	w := &recordingWatcher{}
	cancelWatch := s.Watch(w)
	defer cancelWatch()

	removed, err := s.SweepLoginTokens(ctx, now.Add(-time.Hour))
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if removed != 3 {
		t.Fatalf("removed=%d want=3", removed)
	}

	got, err := s.GetByID(ctx, a.ID)
	if err != nil {
		t.Fatalf("get a: %v", err)
	}
	if len(got.LoginTokens) != 1 || got.LoginTokens[0].Token != "a-live" {
		t.Fatalf("live token not preserved: %+v", got.LoginTokens)
	}

	// One notification per affected record, with the swept tokens present
	// only in the before snapshot.
	if len(w.changed) != 2 {
		t.Fatalf("changed notifications=%d want=2", len(w.changed))
	}
	for _, pair := range w.changed {
		old, updated := pair[0], pair[1]
		if old.ID == a.ID {
			if !old.HasLoginToken("a-old-1") || updated.HasLoginToken("a-old-1") {
				t.Fatalf("sweep snapshots wrong: old=%+v new=%+v", old.LoginTokens, updated.LoginTokens)
			}
		}
	}

	// Age predicate only, so a second pass with the same cutoff is a no-op.
	removed, err = s.SweepLoginTokens(ctx, now.Add(-time.Hour))
	if err != nil {
		t.Fatalf("second sweep: %v", err)
	}
	if removed != 0 {
		t.Fatalf("second sweep removed=%d want=0", removed)
	}
}

func TestPostgresStore_FindByServiceID_TextExtraction(t *testing.T) {
	t.Parallel()

	pool := mustOpenTestPool(t)
	defer pool.Close()

	schema := mustCreateTestSchema(t, pool)
	t.Cleanup(func() { mustDropSchema(t, pool, schema) })
	mustApplyQuaySchema(t, pool, schema)

	s := mustNewQuayStore(t, pool, schema)

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	rec, err := s.Insert(ctx, pgTestRecord(t, func(rec *Record) {
		rec.Services = map[string]ServiceData{
			"oauth-acme": {"id": float64(12345), "name": "navid"},
		}
	}))
	if err != nil {
		t.Fatalf("insert: %v", err)
	}

	// The ->> operator renders the stored JSON number as text, so the string
	// form of a historical numeric id matches.
	got, err := s.FindByServiceID(ctx, "oauth-acme", "12345")
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if got.ID != rec.ID {
		t.Fatalf("wrong record: got=%s want=%s", got.ID, rec.ID)
	}

	if _, err := s.FindByServiceID(ctx, "oauth-acme", "99999"); !IsNotFound(err) {
		t.Fatalf("unknown id: err=%v want not found", err)
	}
}

func TestPostgresStore_ServiceConfigOneTimeWrite(t *testing.T) {
	t.Parallel()

	pool := mustOpenTestPool(t)
	defer pool.Close()

	schema := mustCreateTestSchema(t, pool)
	t.Cleanup(func() { mustDropSchema(t, pool, schema) })
	mustApplyQuaySchema(t, pool, schema)

	s := mustNewQuayStore(t, pool, schema)

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	cfg := ServiceConfig{
		Service:   "oauth-acme",
		Secrets:   map[string]any{"clientSecret": "shh"},
		Public:    map[string]any{"clientId": "abc"},
		CreatedAt: time.Now().UTC().Truncate(time.Microsecond),
	}
	if err := s.InsertServiceConfig(ctx, cfg); err != nil {
		t.Fatalf("insert config: %v", err)
	}

	err := s.InsertServiceConfig(ctx, cfg)
	if !IsConflict(err) || ConflictField(err) != "service_config" {
		t.Fatalf("second write: err=%v field=%q", err, ConflictField(err))
	}

	got, err := s.GetServiceConfig(ctx, "oauth-acme")
	if err != nil {
		t.Fatalf("get config: %v", err)
	}
	if got.Secrets["clientSecret"] != "shh" || got.Public["clientId"] != "abc" {
		t.Fatalf("config round trip: %+v", got)
	}
}

// ---- helpers ----

// pgTestRecord builds a minimal valid record; customize fills in the rest.
func pgTestRecord(t *testing.T, customize func(rec *Record)) Record {
	t.Helper()

	rec := Record{
		ID:        mustNewULIDLike(t),
		CreatedAt: time.Now().UTC().Truncate(time.Microsecond),
	}
	if customize != nil {
		customize(&rec)
	}
	return rec
}

func mustNewQuayStore(t *testing.T, pool *pgxpool.Pool, schema string) *PostgresStore {
	t.Helper()
	s, err := NewPostgresStore(pool, WithSchema(schema))
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	return s
}

func mustOpenTestPool(t *testing.T) *pgxpool.Pool {
	t.Helper()

	raw := strings.TrimSpace(os.Getenv("QUAY_DATABASE_URL"))
	if raw == "" {
		t.Skip("integration test skipped: QUAY_DATABASE_URL is not set")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 12*time.Second)
	defer cancel()

	cfg, err := pgxpool.ParseConfig(raw)
	if err != nil {
		t.Fatalf("parse QUAY_DATABASE_URL: %v", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		t.Fatalf("connect postgres: %v", err)
	}

	// Validate acquire quickly (fast fail).
	pingCtx, pingCancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer pingCancel()

	c, err := pool.Acquire(pingCtx)
	if err != nil {
		pool.Close()
		if shouldSkipIntegration(err) {
			t.Skipf("integration test skipped: Postgres unreachable (QUAY_DATABASE_URL set): %v", err)
		}
		t.Fatalf("acquire: %v", err)
	}
	c.Release()

	return pool
}

func mustCreateTestSchema(t *testing.T, pool *pgxpool.Pool) string {
	t.Helper()

	schema := "quay_it_" + strings.ToLower(mustNewULIDLike(t))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if _, err := pool.Exec(ctx, `CREATE SCHEMA `+pgx.Identifier{schema}.Sanitize()); err != nil {
		t.Fatalf("create schema: %v", err)
	}
	return schema
}

func mustDropSchema(t *testing.T, pool *pgxpool.Pool, schema string) {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	_, _ = pool.Exec(ctx, `DROP SCHEMA IF EXISTS `+pgx.Identifier{schema}.Sanitize()+` CASCADE`)
}

func mustApplyQuaySchema(t *testing.T, pool *pgxpool.Pool, schema string) {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	users := pgIdent(schema, "users")
	emails := pgIdent(schema, "user_emails")
	tokens := pgIdent(schema, "login_tokens")
	configs := pgIdent(schema, "service_config")

	schemaSQL := fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %s (
  id TEXT PRIMARY KEY,
  username TEXT NULL,
  username_norm TEXT NULL,
  profile JSONB NOT NULL DEFAULT '{}',
  services JSONB NOT NULL DEFAULT '{}',
  created_at TIMESTAMPTZ NOT NULL,

  CONSTRAINT chk_users_id_ulid_len CHECK (char_length(id) = 26),
  CONSTRAINT uq_users_username_norm UNIQUE (username_norm)
);

CREATE TABLE IF NOT EXISTS %s (
  user_id TEXT NOT NULL REFERENCES %s(id) ON DELETE CASCADE,
  address TEXT NOT NULL,
  address_norm TEXT NOT NULL,
  verified BOOLEAN NOT NULL DEFAULT false,

  CONSTRAINT uq_user_emails_address_norm UNIQUE (address_norm)
);

CREATE TABLE IF NOT EXISTS %s (
  token TEXT PRIMARY KEY,
  user_id TEXT NOT NULL REFERENCES %s(id) ON DELETE CASCADE,
  stamped_at TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS ix_login_tokens_stamped_at
  ON %s (stamped_at);

CREATE TABLE IF NOT EXISTS %s (
  service TEXT PRIMARY KEY,
  secrets JSONB NULL,
  public JSONB NULL,
  created_at TIMESTAMPTZ NOT NULL
);
`, users, emails, users, tokens, users, tokens, configs)

	if _, err := pool.Exec(ctx, schemaSQL); err != nil {
		t.Fatalf("apply schema: %v", err)
	}
}

func shouldSkipIntegration(err error) bool {
	if err == nil {
		return false
	}
	if os.Getenv("CI") != "" {
		return false
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return true
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return true
	}
	msg := strings.ToLower(err.Error())
	if strings.Contains(msg, "connection refused") ||
		strings.Contains(msg, "context deadline exceeded") ||
		strings.Contains(msg, "timeout") ||
		strings.Contains(msg, "dial tcp") ||
		strings.Contains(msg, "no such host") {
		return true
	}
	return false
}

func mustNewULIDLike(t *testing.T) string {
	t.Helper()

	id, err := NewULID(time.Now().UTC())
	if err != nil {
		t.Fatalf("ulid: %v", err)
	}
	return id
}
