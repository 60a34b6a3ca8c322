package identity

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"time"
)

// MemoryStore is the in-memory Store used in dev mode (no database
// configured) and in unit tests.
//
// Concurrency model mirrors the Postgres store's guarantees: every mutation
// is atomic under one mutex, uniqueness is checked inside the same critical
// section as the write, and watcher callbacks fire after the lock is
// released (so a watcher may call back into the store).
type MemoryStore struct {
	mu      sync.Mutex
	records map[string]Record
	configs map[string]ServiceConfig

	watchers watchers
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore constructs an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		records: make(map[string]Record),
		configs: make(map[string]ServiceConfig),
	}
}

// Close closes the store (noop for in-memory).
func (s *MemoryStore) Close() error { return nil }

// Watch registers w for change/removal notifications.
func (s *MemoryStore) Watch(w Watcher) (cancel func()) {
	return s.watchers.add(w)
}

// Insert persists a fully built record, enforcing the same uniqueness the
// Postgres schema enforces via constraints.
func (s *MemoryStore) Insert(ctx context.Context, rec Record) (Record, error) {
	const op = "identity.Insert"

	if err := ctx.Err(); err != nil {
		return Record{}, err
	}
	if strings.TrimSpace(rec.ID) == "" {
		return Record{}, OpError{Op: op, Kind: ErrInvalidInput, Msg: "missing id"}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.records[rec.ID]; exists {
		return Record{}, ConflictError{Op: op, Field: "id"}
	}

	for _, other := range s.records {
		if field, ok := memConflict(rec, other); ok {
			return Record{}, ConflictError{Op: op, Field: field}
		}
	}
	// Token uniqueness also holds within the new record itself.
	seen := make(map[string]bool, len(rec.LoginTokens))
	for _, t := range rec.LoginTokens {
		if seen[t.Token] {
			return Record{}, ConflictError{Op: op, Field: "login_token"}
		}
		seen[t.Token] = true
	}

	s.records[rec.ID] = rec.Clone()
	return rec.Clone(), nil
}

// memConflict reports which unique field of rec collides with other, if any.
func memConflict(rec, other Record) (string, bool) {
	if rec.Username != nil && other.Username != nil &&
		NormalizeUsername(*rec.Username) == NormalizeUsername(*other.Username) {
		return "username", true
	}
	for _, e := range rec.Emails {
		for _, oe := range other.Emails {
			if NormalizeEmail(e.Address) == NormalizeEmail(oe.Address) {
				return "email", true
			}
		}
	}
	for _, t := range rec.LoginTokens {
		if other.HasLoginToken(t.Token) {
			return "login_token", true
		}
	}
	return "", false
}

// GetByID returns a snapshot of the record with the given id.
func (s *MemoryStore) GetByID(ctx context.Context, id string) (Record, error) {
	const op = "identity.GetByID"

	if err := ctx.Err(); err != nil {
		return Record{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[id]
	if !ok {
		return Record{}, NotFoundError{Op: op, Resource: "record"}
	}
	return rec.Clone(), nil
}

// FindByUsername resolves a record by normalized username.
func (s *MemoryStore) FindByUsername(ctx context.Context, username string) (Record, error) {
	const op = "identity.FindByUsername"

	if err := ctx.Err(); err != nil {
		return Record{}, err
	}
	want := NormalizeUsername(username)

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, rec := range s.records {
		if rec.Username != nil && NormalizeUsername(*rec.Username) == want {
			return rec.Clone(), nil
		}
	}
	return Record{}, NotFoundError{Op: op, Resource: "record"}
}

// FindByEmail resolves a record by normalized email address.
func (s *MemoryStore) FindByEmail(ctx context.Context, address string) (Record, error) {
	const op = "identity.FindByEmail"

	if err := ctx.Err(); err != nil {
		return Record{}, err
	}
	want := NormalizeEmail(address)

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, rec := range s.records {
		for _, e := range rec.Emails {
			if NormalizeEmail(e.Address) == want {
				return rec.Clone(), nil
			}
		}
	}
	return Record{}, NotFoundError{Op: op, Resource: "record"}
}

// FindByLoginToken resolves the record whose token set contains token.
func (s *MemoryStore) FindByLoginToken(ctx context.Context, token string) (Record, StampedToken, error) {
	const op = "identity.FindByLoginToken"

	if err := ctx.Err(); err != nil {
		return Record{}, StampedToken{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, rec := range s.records {
		if st, ok := rec.LoginToken(token); ok {
			return rec.Clone(), st, nil
		}
	}
	return Record{}, StampedToken{}, NotFoundError{Op: op, Resource: "login_token"}
}

// FindByServiceID resolves a record by services.<service>.id, matching the
// stored id whether it is a string or a historical JSON number.
func (s *MemoryStore) FindByServiceID(ctx context.Context, service, providerID string) (Record, error) {
	const op = "identity.FindByServiceID"

	if err := ctx.Err(); err != nil {
		return Record{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, rec := range s.records {
		data, ok := rec.Services[service]
		if !ok {
			continue
		}
		if serviceIDMatches(data["id"], providerID) {
			return rec.Clone(), nil
		}
	}
	return Record{}, NotFoundError{Op: op, Resource: "record"}
}

// AddLoginToken appends t to the record's token set.
func (s *MemoryStore) AddLoginToken(ctx context.Context, userID string, t StampedToken) error {
	const op = "identity.AddLoginToken"

	return s.mutate(ctx, op, userID, func(rec *Record) error {
		for _, other := range s.records {
			if other.HasLoginToken(t.Token) {
				return ConflictError{Op: op, Field: "login_token"}
			}
		}
		rec.LoginTokens = append(rec.LoginTokens, t)
		return nil
	})
}

// RemoveLoginToken removes exactly one token from the record's set.
// Removing an absent token is a no-op.
func (s *MemoryStore) RemoveLoginToken(ctx context.Context, userID, token string) error {
	const op = "identity.RemoveLoginToken"

	return s.mutate(ctx, op, userID, func(rec *Record) error {
		kept := rec.LoginTokens[:0]
		for _, t := range rec.LoginTokens {
			if t.Token != token {
				kept = append(kept, t)
			}
		}
		if len(kept) == len(rec.LoginTokens) {
			return errUnchanged
		}
		rec.LoginTokens = kept
		return nil
	})
}

// ReplaceLoginTokens atomically swaps the whole token set for t.
func (s *MemoryStore) ReplaceLoginTokens(ctx context.Context, userID string, t StampedToken) error {
	const op = "identity.ReplaceLoginTokens"

	return s.mutate(ctx, op, userID, func(rec *Record) error {
		for id, other := range s.records {
			if id != userID && other.HasLoginToken(t.Token) {
				return ConflictError{Op: op, Field: "login_token"}
			}
		}
		rec.LoginTokens = []StampedToken{t}
		return nil
	})
}

// SetService overwrites services.<service> wholesale with data.
func (s *MemoryStore) SetService(ctx context.Context, userID, service string, data ServiceData) error {
	const op = "identity.SetService"

	return s.mutate(ctx, op, userID, func(rec *Record) error {
		if rec.Services == nil {
			rec.Services = make(map[string]ServiceData)
		}
		d := make(ServiceData, len(data))
		for k, v := range data {
			d[k] = v
		}
		rec.Services[service] = d
		return nil
	})
}

// SweepLoginTokens removes every token older than cutoff from every record.
func (s *MemoryStore) SweepLoginTokens(ctx context.Context, cutoff time.Time) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	type change struct{ old, new Record }
	var changes []change
	var removed int64

	s.mu.Lock()
	ids := make([]string, 0, len(s.records))
	for id := range s.records {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	for _, id := range ids {
		rec := s.records[id]
		kept := make([]StampedToken, 0, len(rec.LoginTokens))
		for _, t := range rec.LoginTokens {
			if t.When.Before(cutoff) {
				removed++
				continue
			}
			kept = append(kept, t)
		}
		if len(kept) == len(rec.LoginTokens) {
			continue
		}
		old := rec.Clone()
		rec.LoginTokens = kept
		s.records[id] = rec
		changes = append(changes, change{old: old, new: rec.Clone()})
	}
	s.mu.Unlock()

	for _, c := range changes {
		s.watchers.notifyChanged(c.old, c.new)
	}
	return removed, nil
}

// Remove deletes the whole record.
func (s *MemoryStore) Remove(ctx context.Context, userID string) error {
	const op = "identity.Remove"

	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	rec, ok := s.records[userID]
	if ok {
		delete(s.records, userID)
	}
	s.mu.Unlock()

	if !ok {
		return NotFoundError{Op: op, Resource: "record"}
	}
	s.watchers.notifyRemoved(rec)
	return nil
}

// InsertServiceConfig performs the one-time write of a service configuration.
func (s *MemoryStore) InsertServiceConfig(ctx context.Context, cfg ServiceConfig) error {
	const op = "identity.InsertServiceConfig"

	if err := ctx.Err(); err != nil {
		return err
	}
	if strings.TrimSpace(cfg.Service) == "" {
		return OpError{Op: op, Kind: ErrInvalidInput, Msg: "missing service"}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.configs[cfg.Service]; exists {
		return ConflictError{Op: op, Field: "service_config"}
	}
	s.configs[cfg.Service] = cfg
	return nil
}

// GetServiceConfig returns the configuration for one service.
func (s *MemoryStore) GetServiceConfig(ctx context.Context, service string) (ServiceConfig, error) {
	const op = "identity.GetServiceConfig"

	if err := ctx.Err(); err != nil {
		return ServiceConfig{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	cfg, ok := s.configs[service]
	if !ok {
		return ServiceConfig{}, NotFoundError{Op: op, Resource: "service_config"}
	}
	return cfg, nil
}

// ListServiceConfigs returns all configured services, ordered by name.
func (s *MemoryStore) ListServiceConfigs(ctx context.Context) ([]ServiceConfig, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]ServiceConfig, 0, len(s.configs))
	for _, cfg := range s.configs {
		out = append(out, cfg)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Service < out[j].Service })
	return out, nil
}

// errUnchanged signals a mutation that turned out to be a no-op. mutate
// reports success without committing or notifying watchers.
var errUnchanged = errors.New("unchanged")

// mutate runs fn against the record under the store lock and notifies
// watchers with before/after snapshots once the lock is released.
func (s *MemoryStore) mutate(ctx context.Context, op, userID string, fn func(rec *Record) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if strings.TrimSpace(userID) == "" {
		return OpError{Op: op, Kind: ErrInvalidInput, Msg: "missing user_id"}
	}

	s.mu.Lock()
	rec, ok := s.records[userID]
	if !ok {
		s.mu.Unlock()
		return NotFoundError{Op: op, Resource: "record"}
	}

	old := rec.Clone()
	work := rec.Clone()
	if err := fn(&work); err != nil {
		s.mu.Unlock()
		if errors.Is(err, errUnchanged) {
			return nil
		}
		return err
	}
	s.records[userID] = work
	updated := work.Clone()
	s.mu.Unlock()

	s.watchers.notifyChanged(old, updated)
	return nil
}
