package accounts

import (
	"log/slog"
	"time"

	"quay/cmd/identity"
)

// ConnCloser is the transport capability the evictor needs: close every
// live connection currently authenticated with one of the given tokens.
// It returns how many connections were closed.
type ConnCloser interface {
	CloseByLoginTokens(tokens []string, reason string) int
}

// Evictor watches identity records and tears down connections whose login
// token disappeared.
//
// Token removal and connection teardown are handled by different
// subsystems and must not block each other, so the close runs on its own
// deferred timer per eviction batch. There is no cancellation: a client
// that reconnected with a fresh token before the grace delay simply
// survives the stale close.
type Evictor struct {
	log    *slog.Logger
	closer ConnCloser
	grace  time.Duration
}

var _ identity.Watcher = (*Evictor)(nil)

// NewEvictor constructs an Evictor with the configured grace delay.
func NewEvictor(log *slog.Logger, closer ConnCloser, grace time.Duration) *Evictor {
	if grace < 0 {
		grace = DefaultConfig().EvictionGrace
	}
	return &Evictor{log: log, closer: closer, grace: grace}
}

// OnChanged implements identity.Watcher.
func (e *Evictor) OnChanged(old, new identity.Record) {
	e.schedule(RemovedTokens(old.LoginTokens, new.LoginTokens))
}

// OnRemoved implements identity.Watcher. A deleted record revokes every
// token it held.
func (e *Evictor) OnRemoved(old identity.Record) {
	e.schedule(RemovedTokens(old.LoginTokens, nil))
}

// schedule arms the deferred close for a batch of revoked tokens.
func (e *Evictor) schedule(removed []string) {
	if len(removed) == 0 {
		return
	}

	metricEvictionsScheduled.Inc()
	e.log.Info("evict.schedule", "tokens", len(removed), "grace", e.grace.String())

	time.AfterFunc(e.grace, func() {
		closed := e.closer.CloseByLoginTokens(removed, "login token revoked")
		metricConnectionsEvicted.Add(float64(closed))
		if closed > 0 {
			e.log.Info("evict.closed", "connections", closed)
		}
	})
}

// RemovedTokens computes which token strings are present in old but absent
// from new. It is the pure core of eviction: set difference by token
// string. A vanished token set (new empty or nil) removes everything.
func RemovedTokens(old, new []identity.StampedToken) []string {
	if len(old) == 0 {
		return nil
	}

	remaining := make(map[string]bool, len(new))
	for _, t := range new {
		remaining[t.Token] = true
	}

	var removed []string
	for _, t := range old {
		if !remaining[t.Token] {
			removed = append(removed, t.Token)
		}
	}
	return removed
}
