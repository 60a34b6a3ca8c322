package accounts

import (
	"reflect"
	"sync"
	"testing"
	"time"

	"quay/cmd/identity"
)

func stamped(tokens ...string) []identity.StampedToken {
	out := make([]identity.StampedToken, 0, len(tokens))
	for _, t := range tokens {
		out = append(out, identity.StampedToken{Token: t, When: time.Now()})
	}
	return out
}

func TestRemovedTokens(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		old  []identity.StampedToken
		new  []identity.StampedToken
		want []string
	}{
		{name: "no change", old: stamped("a", "b"), new: stamped("a", "b"), want: nil},
		{name: "one removed", old: stamped("a", "b"), new: stamped("b"), want: []string{"a"}},
		{name: "all removed", old: stamped("a", "b"), new: nil, want: []string{"a", "b"}},
		{name: "addition only", old: stamped("a"), new: stamped("a", "b"), want: nil},
		{name: "replace", old: stamped("a", "b"), new: stamped("c"), want: []string{"a", "b"}},
		{name: "empty old", old: nil, new: stamped("a"), want: nil},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			got := RemovedTokens(tc.old, tc.new)
			if !reflect.DeepEqual(got, tc.want) {
				t.Fatalf("RemovedTokens=%v want=%v", got, tc.want)
			}
		})
	}
}

type fakeCloser struct {
	mu    sync.Mutex
	calls [][]string
	done  chan struct{}
}

func newFakeCloser() *fakeCloser {
	return &fakeCloser{done: make(chan struct{}, 8)}
}

func (c *fakeCloser) CloseByLoginTokens(tokens []string, _ string) int {
	c.mu.Lock()
	c.calls = append(c.calls, append([]string(nil), tokens...))
	c.mu.Unlock()
	c.done <- struct{}{}
	return len(tokens)
}

func (c *fakeCloser) waitForCall(t *testing.T, within time.Duration) []string {
	t.Helper()
	select {
	case <-c.done:
	case <-time.After(within):
		t.Fatalf("no eviction within %s", within)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls[len(c.calls)-1]
}

func TestEvictorClosesAfterGrace(t *testing.T) {
	t.Parallel()

	closer := newFakeCloser()
	ev := NewEvictor(testLogger(), closer, 10*time.Millisecond)

	old := identity.Record{ID: "u1", LoginTokens: stamped("a", "b")}
	new := identity.Record{ID: "u1", LoginTokens: stamped("b")}
	ev.OnChanged(old, new)

	got := closer.waitForCall(t, time.Second)
	if !reflect.DeepEqual(got, []string{"a"}) {
		t.Fatalf("closed tokens=%v want [a]", got)
	}
}

func TestEvictorRemovedRecordRevokesAll(t *testing.T) {
	t.Parallel()

	closer := newFakeCloser()
	ev := NewEvictor(testLogger(), closer, 10*time.Millisecond)

	ev.OnRemoved(identity.Record{ID: "u1", LoginTokens: stamped("a", "b")})

	got := closer.waitForCall(t, time.Second)
	if !reflect.DeepEqual(got, []string{"a", "b"}) {
		t.Fatalf("closed tokens=%v want [a b]", got)
	}
}

func TestEvictorIgnoresGrowth(t *testing.T) {
	t.Parallel()

	closer := newFakeCloser()
	ev := NewEvictor(testLogger(), closer, time.Millisecond)

	old := identity.Record{ID: "u1", LoginTokens: stamped("a")}
	new := identity.Record{ID: "u1", LoginTokens: stamped("a", "b")}
	ev.OnChanged(old, new)

	select {
	case <-closer.done:
		t.Fatalf("eviction scheduled for a token addition")
	case <-time.After(50 * time.Millisecond):
	}
}
