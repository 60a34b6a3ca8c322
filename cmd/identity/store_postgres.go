package identity

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore implements identity persistence over PostgreSQL.
//
// Design notes:
// - The pgx pool is owned by the caller; this store must NOT close it.
// - Schema/table identifiers are safely quoted to avoid SQL injection via identifiers.
// - Per-record mutations serialize on SELECT ... FOR UPDATE of the users row so
//   watcher snapshots are consistent before/after pairs.
// - Errors are mapped to identity sentinel kinds where appropriate.
//
// Expected schema (managed externally, default schema "quay"):
//
//	users         (id text PK, username text, username_norm text,
//	               profile jsonb NOT NULL DEFAULT '{}',
//	               services jsonb NOT NULL DEFAULT '{}',
//	               created_at timestamptz NOT NULL,
//	               CONSTRAINT uq_users_username_norm UNIQUE (username_norm))
//	user_emails   (user_id text REFERENCES users(id) ON DELETE CASCADE,
//	               address text NOT NULL, address_norm text NOT NULL,
//	               verified boolean NOT NULL DEFAULT false,
//	               CONSTRAINT uq_user_emails_address_norm UNIQUE (address_norm))
//	login_tokens  (token text PRIMARY KEY,
//	               user_id text REFERENCES users(id) ON DELETE CASCADE,
//	               stamped_at timestamptz NOT NULL)
//	               + INDEX ix_login_tokens_stamped_at ON (stamped_at)
//	service_config(service text PRIMARY KEY, secrets jsonb, public jsonb,
//	               created_at timestamptz NOT NULL)
type PostgresStore struct {
	pool   *pgxpool.Pool
	schema string

	watchers watchers
}

var _ Store = (*PostgresStore)(nil)

// PostgresOption configures the store.
type PostgresOption func(*PostgresStore) error

var pgIdentRe = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// WithSchema sets the Postgres schema used by the identity store (default "quay").
// The schema name is validated to be a legal PostgreSQL identifier.
func WithSchema(schema string) PostgresOption {
	return func(s *PostgresStore) error {
		schema = strings.TrimSpace(schema)
		if schema == "" {
			return fmt.Errorf("identity: empty schema")
		}
		if !pgIdentIsValid(schema) {
			return fmt.Errorf("identity: invalid schema identifier")
		}
		s.schema = schema
		return nil
	}
}

// NewPostgresStore constructs a PostgresStore with secure defaults.
func NewPostgresStore(pool *pgxpool.Pool, opts ...PostgresOption) (*PostgresStore, error) {
	st := &PostgresStore{
		pool:   pool,
		schema: "quay",
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt(st); err != nil {
			return nil, err
		}
	}
	if st.pool == nil {
		return nil, fmt.Errorf("identity: nil pool")
	}
	return st, nil
}

// Close is a no-op; the pool is owned by the caller.
func (s *PostgresStore) Close() error { return nil }

// Watch registers w for change/removal notifications.
func (s *PostgresStore) Watch(w Watcher) (cancel func()) {
	return s.watchers.add(w)
}

// Insert persists a fully built record in one transaction.
func (s *PostgresStore) Insert(ctx context.Context, rec Record) (Record, error) {
	const op = "identity.Insert"

	if err := s.guard(ctx, op); err != nil {
		return Record{}, err
	}
	if strings.TrimSpace(rec.ID) == "" {
		return Record{}, pgInvalid(op, "missing id")
	}

	profileJSON, servicesJSON, err := pgEncodeRecord(rec)
	if err != nil {
		return Record{}, pgInvalid(op, err.Error())
	}

	var usernameNorm *string
	if rec.Username != nil {
		n := NormalizeUsername(*rec.Username)
		usernameNorm = &n
	}

	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted, AccessMode: pgx.ReadWrite})
	if err != nil {
		return Record{}, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	users := pgIdent(s.schema, "users")
	emails := pgIdent(s.schema, "user_emails")
	tokens := pgIdent(s.schema, "login_tokens")

	_, err = tx.Exec(ctx,
		`INSERT INTO `+users+` (id, username, username_norm, profile, services, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		rec.ID, rec.Username, usernameNorm, profileJSON, servicesJSON, rec.CreatedAt,
	)
	if err != nil {
		if field, ok := pgClassifyUniqueViolation(err); ok {
			return Record{}, ConflictError{Op: op, Field: field}
		}
		return Record{}, err
	}

	for _, e := range rec.Emails {
		_, err = tx.Exec(ctx,
			`INSERT INTO `+emails+` (user_id, address, address_norm, verified)
			 VALUES ($1, $2, $3, $4)`,
			rec.ID, e.Address, NormalizeEmail(e.Address), e.Verified,
		)
		if err != nil {
			if field, ok := pgClassifyUniqueViolation(err); ok {
				return Record{}, ConflictError{Op: op, Field: field}
			}
			return Record{}, err
		}
	}

	for _, t := range rec.LoginTokens {
		_, err = tx.Exec(ctx,
			`INSERT INTO `+tokens+` (token, user_id, stamped_at) VALUES ($1, $2, $3)`,
			t.Token, rec.ID, t.When,
		)
		if err != nil {
			if field, ok := pgClassifyUniqueViolation(err); ok {
				return Record{}, ConflictError{Op: op, Field: field}
			}
			return Record{}, err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return Record{}, err
	}
	return rec.Clone(), nil
}

// GetByID returns a snapshot of the record with the given id.
func (s *PostgresStore) GetByID(ctx context.Context, id string) (Record, error) {
	const op = "identity.GetByID"

	if err := s.guard(ctx, op); err != nil {
		return Record{}, err
	}
	return s.getRecord(ctx, op, s.pool, `WHERE u.id = $1`, id)
}

// FindByUsername resolves a record by normalized username.
func (s *PostgresStore) FindByUsername(ctx context.Context, username string) (Record, error) {
	const op = "identity.FindByUsername"

	if err := s.guard(ctx, op); err != nil {
		return Record{}, err
	}
	return s.getRecord(ctx, op, s.pool, `WHERE u.username_norm = $1`, NormalizeUsername(username))
}

// FindByEmail resolves a record by normalized email address.
func (s *PostgresStore) FindByEmail(ctx context.Context, address string) (Record, error) {
	const op = "identity.FindByEmail"

	if err := s.guard(ctx, op); err != nil {
		return Record{}, err
	}
	emails := pgIdent(s.schema, "user_emails")
	return s.getRecord(ctx, op, s.pool,
		`WHERE u.id = (SELECT user_id FROM `+emails+` WHERE address_norm = $1)`,
		NormalizeEmail(address))
}

// FindByLoginToken resolves the record whose token set contains token.
func (s *PostgresStore) FindByLoginToken(ctx context.Context, token string) (Record, StampedToken, error) {
	const op = "identity.FindByLoginToken"

	if err := s.guard(ctx, op); err != nil {
		return Record{}, StampedToken{}, err
	}

	tokens := pgIdent(s.schema, "login_tokens")

	var userID string
	var st StampedToken
	err := s.pool.QueryRow(ctx,
		`SELECT user_id, token, stamped_at FROM `+tokens+` WHERE token = $1`,
		token,
	).Scan(&userID, &st.Token, &st.When)
	if errors.Is(err, pgx.ErrNoRows) {
		return Record{}, StampedToken{}, NotFoundError{Op: op, Resource: "login_token"}
	}
	if err != nil {
		return Record{}, StampedToken{}, err
	}

	rec, err := s.getRecord(ctx, op, s.pool, `WHERE u.id = $1`, userID)
	if err != nil {
		return Record{}, StampedToken{}, err
	}
	return rec, st, nil
}

// FindByServiceID resolves a record by services.<service>.id.
// The jsonb ->> operator renders both JSON strings and numbers as text, so
// a historical numeric id and its string form match the same predicate.
func (s *PostgresStore) FindByServiceID(ctx context.Context, service, providerID string) (Record, error) {
	const op = "identity.FindByServiceID"

	if err := s.guard(ctx, op); err != nil {
		return Record{}, err
	}
	return s.getRecord(ctx, op, s.pool, `WHERE u.services -> $1 ->> 'id' = $2`, service, providerID)
}

// AddLoginToken appends t to the record's token set.
func (s *PostgresStore) AddLoginToken(ctx context.Context, userID string, t StampedToken) error {
	const op = "identity.AddLoginToken"

	tokens := pgIdent(s.schema, "login_tokens")
	return s.mutate(ctx, op, userID, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx,
			`INSERT INTO `+tokens+` (token, user_id, stamped_at) VALUES ($1, $2, $3)`,
			t.Token, userID, t.When,
		)
		if err != nil {
			if field, ok := pgClassifyUniqueViolation(err); ok {
				return ConflictError{Op: op, Field: field}
			}
			return err
		}
		return nil
	})
}

// RemoveLoginToken removes exactly one token from the record's set.
// Removing an absent token is a no-op.
func (s *PostgresStore) RemoveLoginToken(ctx context.Context, userID, token string) error {
	const op = "identity.RemoveLoginToken"

	tokens := pgIdent(s.schema, "login_tokens")
	return s.mutate(ctx, op, userID, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx,
			`DELETE FROM `+tokens+` WHERE user_id = $1 AND token = $2`,
			userID, token,
		)
		return err
	})
}

// ReplaceLoginTokens atomically swaps the record's entire token set for t.
// Delete + insert inside one transaction; a concurrent login by the same
// identity either lands before the delete (and is invalidated with the
// rest) or after the commit.
func (s *PostgresStore) ReplaceLoginTokens(ctx context.Context, userID string, t StampedToken) error {
	const op = "identity.ReplaceLoginTokens"

	tokens := pgIdent(s.schema, "login_tokens")
	return s.mutate(ctx, op, userID, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `DELETE FROM `+tokens+` WHERE user_id = $1`, userID); err != nil {
			return err
		}
		_, err := tx.Exec(ctx,
			`INSERT INTO `+tokens+` (token, user_id, stamped_at) VALUES ($1, $2, $3)`,
			t.Token, userID, t.When,
		)
		if err != nil {
			if field, ok := pgClassifyUniqueViolation(err); ok {
				return ConflictError{Op: op, Field: field}
			}
			return err
		}
		return nil
	})
}

// SetService overwrites services.<service> wholesale with data.
func (s *PostgresStore) SetService(ctx context.Context, userID, service string, data ServiceData) error {
	const op = "identity.SetService"

	payload, err := json.Marshal(data)
	if err != nil {
		return pgInvalid(op, err.Error())
	}

	users := pgIdent(s.schema, "users")
	return s.mutate(ctx, op, userID, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx,
			`UPDATE `+users+` SET services = jsonb_set(services, ARRAY[$1], $2::jsonb) WHERE id = $3`,
			service, payload, userID,
		)
		return err
	})
}

// SweepLoginTokens removes every token older than cutoff from every record
// in one bulk delete. The predicate is age-only, so the sweep is safe under
// concurrent logins and idempotent for a fixed cutoff.
func (s *PostgresStore) SweepLoginTokens(ctx context.Context, cutoff time.Time) (int64, error) {
	const op = "identity.SweepLoginTokens"

	if err := s.guard(ctx, op); err != nil {
		return 0, err
	}

	tokens := pgIdent(s.schema, "login_tokens")

	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted, AccessMode: pgx.ReadWrite})
	if err != nil {
		return 0, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	rows, err := tx.Query(ctx,
		`DELETE FROM `+tokens+` WHERE stamped_at < $1 RETURNING user_id, token, stamped_at`,
		cutoff,
	)
	if err != nil {
		return 0, err
	}

	removedByUser := make(map[string][]StampedToken)
	var removed int64
	for rows.Next() {
		var userID string
		var st StampedToken
		if err := rows.Scan(&userID, &st.Token, &st.When); err != nil {
			rows.Close()
			return 0, err
		}
		removedByUser[userID] = append(removedByUser[userID], st)
		removed++
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return 0, err
	}

	// Post-delete snapshots for watcher notifications; the pre-delete
	// snapshot is the post snapshot plus the tokens just removed.
	type change struct{ old, new Record }
	changes := make([]change, 0, len(removedByUser))
	for userID, lost := range removedByUser {
		after, err := s.getRecordTx(ctx, op, tx, userID)
		if err != nil {
			if IsNotFound(err) {
				continue
			}
			return 0, err
		}
		before := after.Clone()
		before.LoginTokens = append(before.LoginTokens, lost...)
		changes = append(changes, change{old: before, new: after})
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, err
	}

	for _, c := range changes {
		s.watchers.notifyChanged(c.old, c.new)
	}
	return removed, nil
}

// Remove deletes the whole record (emails and tokens follow via cascade).
func (s *PostgresStore) Remove(ctx context.Context, userID string) error {
	const op = "identity.Remove"

	if err := s.guard(ctx, op); err != nil {
		return err
	}
	if strings.TrimSpace(userID) == "" {
		return pgInvalid(op, "missing user_id")
	}

	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted, AccessMode: pgx.ReadWrite})
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	old, err := s.getRecordTx(ctx, op, tx, userID)
	if err != nil {
		return err
	}

	users := pgIdent(s.schema, "users")
	if _, err := tx.Exec(ctx, `DELETE FROM `+users+` WHERE id = $1`, userID); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return err
	}

	s.watchers.notifyRemoved(old)
	return nil
}

// InsertServiceConfig performs the one-time write of a service configuration.
func (s *PostgresStore) InsertServiceConfig(ctx context.Context, cfg ServiceConfig) error {
	const op = "identity.InsertServiceConfig"

	if err := s.guard(ctx, op); err != nil {
		return err
	}
	if strings.TrimSpace(cfg.Service) == "" {
		return pgInvalid(op, "missing service")
	}

	secrets, err := json.Marshal(cfg.Secrets)
	if err != nil {
		return pgInvalid(op, err.Error())
	}
	public, err := json.Marshal(cfg.Public)
	if err != nil {
		return pgInvalid(op, err.Error())
	}

	table := pgIdent(s.schema, "service_config")
	_, err = s.pool.Exec(ctx,
		`INSERT INTO `+table+` (service, secrets, public, created_at) VALUES ($1, $2, $3, $4)`,
		cfg.Service, secrets, public, cfg.CreatedAt,
	)
	if err != nil {
		if field, ok := pgClassifyUniqueViolation(err); ok {
			return ConflictError{Op: op, Field: field}
		}
		return err
	}
	return nil
}

// GetServiceConfig returns the configuration for one service.
func (s *PostgresStore) GetServiceConfig(ctx context.Context, service string) (ServiceConfig, error) {
	const op = "identity.GetServiceConfig"

	if err := s.guard(ctx, op); err != nil {
		return ServiceConfig{}, err
	}

	table := pgIdent(s.schema, "service_config")

	var cfg ServiceConfig
	var secrets, public []byte
	err := s.pool.QueryRow(ctx,
		`SELECT service, secrets, public, created_at FROM `+table+` WHERE service = $1`,
		service,
	).Scan(&cfg.Service, &secrets, &public, &cfg.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return ServiceConfig{}, NotFoundError{Op: op, Resource: "service_config"}
	}
	if err != nil {
		return ServiceConfig{}, err
	}
	if err := pgDecodeJSON(secrets, &cfg.Secrets); err != nil {
		return ServiceConfig{}, err
	}
	if err := pgDecodeJSON(public, &cfg.Public); err != nil {
		return ServiceConfig{}, err
	}
	return cfg, nil
}

// ListServiceConfigs returns all configured services, ordered by name.
func (s *PostgresStore) ListServiceConfigs(ctx context.Context) ([]ServiceConfig, error) {
	const op = "identity.ListServiceConfigs"

	if err := s.guard(ctx, op); err != nil {
		return nil, err
	}

	table := pgIdent(s.schema, "service_config")

	rows, err := s.pool.Query(ctx,
		`SELECT service, secrets, public, created_at FROM `+table+` ORDER BY service`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []ServiceConfig
	for rows.Next() {
		var cfg ServiceConfig
		var secrets, public []byte
		if err := rows.Scan(&cfg.Service, &secrets, &public, &cfg.CreatedAt); err != nil {
			return nil, err
		}
		if err := pgDecodeJSON(secrets, &cfg.Secrets); err != nil {
			return nil, err
		}
		if err := pgDecodeJSON(public, &cfg.Public); err != nil {
			return nil, err
		}
		out = append(out, cfg)
	}
	return out, rows.Err()
}

// ---- internals ----

// pgQuerier is satisfied by both *pgxpool.Pool and pgx.Tx.
type pgQuerier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func (s *PostgresStore) guard(ctx context.Context, op string) error {
	if s == nil || s.pool == nil {
		return OpError{Op: op, Kind: ErrInvalidInput, Msg: "nil store"}
	}
	return ctx.Err()
}

// mutate serializes a per-record mutation on the users row, captures
// before/after snapshots inside the same transaction, and notifies
// watchers after commit.
func (s *PostgresStore) mutate(ctx context.Context, op, userID string, fn func(tx pgx.Tx) error) error {
	if err := s.guard(ctx, op); err != nil {
		return err
	}
	if strings.TrimSpace(userID) == "" {
		return pgInvalid(op, "missing user_id")
	}

	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted, AccessMode: pgx.ReadWrite})
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	users := pgIdent(s.schema, "users")

	var locked string
	err = tx.QueryRow(ctx, `SELECT id FROM `+users+` WHERE id = $1 FOR UPDATE`, userID).Scan(&locked)
	if errors.Is(err, pgx.ErrNoRows) {
		return NotFoundError{Op: op, Resource: "record"}
	}
	if err != nil {
		return err
	}

	old, err := s.getRecordTx(ctx, op, tx, userID)
	if err != nil {
		return err
	}

	if err := fn(tx); err != nil {
		return err
	}

	updated, err := s.getRecordTx(ctx, op, tx, userID)
	if err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return err
	}

	s.watchers.notifyChanged(old, updated)
	return nil
}

// getRecord assembles a full Record snapshot (users row + emails + tokens).
func (s *PostgresStore) getRecord(ctx context.Context, op string, q pgQuerier, where string, args ...any) (Record, error) {
	users := pgIdent(s.schema, "users")

	var rec Record
	var profile, services []byte
	err := q.QueryRow(ctx,
		`SELECT u.id, u.username, u.profile, u.services, u.created_at
		   FROM `+users+` u `+where,
		args...,
	).Scan(&rec.ID, &rec.Username, &profile, &services, &rec.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Record{}, NotFoundError{Op: op, Resource: "record"}
	}
	if err != nil {
		return Record{}, err
	}
	if err := pgDecodeJSON(profile, &rec.Profile); err != nil {
		return Record{}, err
	}
	if err := pgDecodeJSON(services, &rec.Services); err != nil {
		return Record{}, err
	}

	emails := pgIdent(s.schema, "user_emails")
	rows, err := q.Query(ctx,
		`SELECT address, verified FROM `+emails+` WHERE user_id = $1 ORDER BY address`, rec.ID)
	if err != nil {
		return Record{}, err
	}
	for rows.Next() {
		var e Email
		if err := rows.Scan(&e.Address, &e.Verified); err != nil {
			rows.Close()
			return Record{}, err
		}
		rec.Emails = append(rec.Emails, e)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return Record{}, err
	}

	tokens := pgIdent(s.schema, "login_tokens")
	rows, err = q.Query(ctx,
		`SELECT token, stamped_at FROM `+tokens+` WHERE user_id = $1 ORDER BY stamped_at, token`, rec.ID)
	if err != nil {
		return Record{}, err
	}
	for rows.Next() {
		var t StampedToken
		if err := rows.Scan(&t.Token, &t.When); err != nil {
			rows.Close()
			return Record{}, err
		}
		rec.LoginTokens = append(rec.LoginTokens, t)
	}
	rows.Close()
	return rec, rows.Err()
}

func (s *PostgresStore) getRecordTx(ctx context.Context, op string, tx pgx.Tx, userID string) (Record, error) {
	return s.getRecord(ctx, op, tx, `WHERE u.id = $1`, userID)
}

// pgEncodeRecord marshals the jsonb columns of a record.
func pgEncodeRecord(rec Record) (profile, services []byte, err error) {
	p := rec.Profile
	if p == nil {
		p = map[string]any{}
	}
	sv := rec.Services
	if sv == nil {
		sv = map[string]ServiceData{}
	}
	profile, err = json.Marshal(p)
	if err != nil {
		return nil, nil, err
	}
	services, err = json.Marshal(sv)
	if err != nil {
		return nil, nil, err
	}
	return profile, services, nil
}

// pgDecodeJSON unmarshals a jsonb column, tolerating NULL.
func pgDecodeJSON[T any](raw []byte, dst *T) error {
	if len(raw) == 0 {
		return nil
	}
	return json.Unmarshal(raw, dst)
}

// pgInvalid standardizes invalid input errors.
func pgInvalid(op, msg string) error {
	return OpError{Op: op, Kind: ErrInvalidInput, Msg: msg}
}

// pgIdentIsValid checks if a string is a safe Postgres identifier.
func pgIdentIsValid(s string) bool {
	return pgIdentRe.MatchString(s)
}

// pgIdent safely quotes a schema-qualified identifier: "schema"."name".
func pgIdent(schema, name string) string {
	return pgx.Identifier{schema, name}.Sanitize()
}

func pgClassifyUniqueViolation(err error) (field string, ok bool) {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return "", false
	}
	if pgErr.Code != "23505" { // unique_violation
		return "", false
	}

	// Prefer stable schema constraint names. Fall back to heuristic substring matching.
	c := strings.ToLower(strings.TrimSpace(pgErr.ConstraintName))

	switch c {
	case "uq_users_username_norm":
		return "username", true
	case "uq_user_emails_address_norm":
		return "email", true
	case "login_tokens_pkey":
		return "login_token", true
	case "service_config_pkey":
		return "service_config", true
	default:
		switch {
		case strings.Contains(c, "username"):
			return "username", true
		case strings.Contains(c, "email"):
			return "email", true
		case strings.Contains(c, "token"):
			return "login_token", true
		case strings.Contains(c, "service"):
			return "service_config", true
		default:
			return "unique", true
		}
	}
}
