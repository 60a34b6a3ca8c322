package realtime

import "sync"

// Client represents one connected websocket session and its credential
// binding (identity id + the login token it authenticated with).
//
// Design notes:
// - Send is intentionally NOT closed by the server to avoid panics from concurrent pushers.
// - done is used to signal goroutines to stop; Close is idempotent.
// - The binding is mutex-guarded: the accounts core writes it on the
//   connection's own request path while the evictor reads it from its timer.
type Client struct {
	ConnID string
	Send   chan Envelope

	mu         sync.Mutex
	userID     string
	loginToken string
	evictedFor string

	done      chan struct{}
	closeOnce sync.Once
}

// NewClient constructs a Client with a bounded send queue.
func NewClient(connID string, sendQueueSize int) *Client {
	if sendQueueSize <= 0 {
		sendQueueSize = 64
	}
	return &Client{
		ConnID: connID,
		Send:   make(chan Envelope, sendQueueSize),
		done:   make(chan struct{}),
	}
}

// UserID returns the bound identity id, or "".
func (c *Client) UserID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.userID
}

// LoginToken returns the token this connection authenticated with, or "".
func (c *Client) LoginToken() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.loginToken
}

// Bind records the connection's authenticated identity and credential.
func (c *Client) Bind(userID, token string) {
	c.mu.Lock()
	c.userID = userID
	c.loginToken = token
	c.mu.Unlock()
}

// ClearBinding drops the connection's identity and credential.
func (c *Client) ClearBinding() {
	c.Bind("", "")
}

// Done returns a channel that is closed when the client is shutting down.
func (c *Client) Done() <-chan struct{} {
	if c == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return c.done
}

// Close signals the client goroutines to stop (idempotent).
// It does NOT close Send to keep concurrent pushes safe.
func (c *Client) Close() {
	if c == nil {
		return
	}
	c.closeOnce.Do(func() {
		close(c.done)
	})
}

// Evict marks the client as forcibly closed for the given reason and
// signals shutdown. The gateway reads the reason when emitting the
// websocket close frame.
func (c *Client) Evict(reason string) {
	if c == nil {
		return
	}
	c.mu.Lock()
	if c.evictedFor == "" {
		c.evictedFor = reason
	}
	c.mu.Unlock()
	c.Close()
}

// EvictedFor returns the eviction reason, or "" for a normal shutdown.
func (c *Client) EvictedFor() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.evictedFor
}
