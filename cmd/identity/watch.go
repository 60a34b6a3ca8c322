package identity

import "sync"

// Watcher receives identity-record change notifications.
//
// OnChanged and OnRemoved are invoked after the mutation is durably
// applied, with independent snapshots; implementations may retain them.
// Callbacks run on the mutating goroutine and must not block for long —
// anything slow (e.g. deferred connection eviction) belongs on the
// watcher's own timer.
type Watcher interface {
	OnChanged(old, new Record)
	OnRemoved(old Record)
}

// watchers is the fan-out primitive shared by Store implementations.
type watchers struct {
	mu   sync.Mutex
	next int
	subs map[int]Watcher
}

func (ws *watchers) add(w Watcher) (cancel func()) {
	ws.mu.Lock()
	defer ws.mu.Unlock()

	if ws.subs == nil {
		ws.subs = make(map[int]Watcher)
	}
	id := ws.next
	ws.next++
	ws.subs[id] = w

	return func() {
		ws.mu.Lock()
		delete(ws.subs, id)
		ws.mu.Unlock()
	}
}

func (ws *watchers) snapshot() []Watcher {
	ws.mu.Lock()
	defer ws.mu.Unlock()

	out := make([]Watcher, 0, len(ws.subs))
	for _, w := range ws.subs {
		out = append(out, w)
	}
	return out
}

func (ws *watchers) notifyChanged(old, new Record) {
	for _, w := range ws.snapshot() {
		w.OnChanged(old.Clone(), new.Clone())
	}
}

func (ws *watchers) notifyRemoved(old Record) {
	for _, w := range ws.snapshot() {
		w.OnRemoved(old.Clone())
	}
}
