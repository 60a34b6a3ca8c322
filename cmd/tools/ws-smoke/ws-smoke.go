// Package main provides a CI-friendly WebSocket smoke test for the Quay
// session surface.
//
// It validates:
//   - handshake + subprotocol selection
//   - login_service.config push on connect
//   - logout round-trip (result correlation)
//   - logout_all_others without a binding -> not_authenticated
//   - login with an empty options object -> unrecognized_login_request
//   - unknown envelope type -> unsupported
//   - optionally (-user/-password): login, resume on a second connection,
//     then logout_all_others and eviction of the resumed connection
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"quay/cmd/internal/realtime"

	"github.com/coder/websocket"
)

const (
	defaultSubprotocol = "quay.rpc.v1"
	maxReadBytes       = 1 << 20 // 1MiB
)

type smokeClient struct {
	name string
	conn *websocket.Conn

	inbox chan realtime.Envelope
	errCh chan error
}

func main() {
	var (
		wsURL    = flag.String("url", "ws://127.0.0.1:8080/ws", "WebSocket URL")
		origin   = flag.String("origin", "http://localhost", "Origin header to send (browser-like WS handshake)")
		user     = flag.String("user", "", "Optional username for the authenticated flow")
		password = flag.String("password", "", "Optional password for the authenticated flow")
		timeout  = flag.Duration("timeout", 7*time.Second, "Per-step timeout")
		evictBy  = flag.Duration("evict-by", 15*time.Second, "How long to wait for the resumed connection to be evicted")
		verbose  = flag.Bool("v", false, "Verbose output")
	)
	flag.Parse()

	if err := validateWSURL(*wsURL); err != nil {
		fatalf("invalid -url: %v", err)
	}
	if err := validateOrigin(*origin); err != nil {
		fatalf("invalid -origin: %v", err)
	}

	root := context.Background()

	a := mustConnect(root, "A", *wsURL, *origin, *timeout)
	defer closeWS(a.conn)

	// The server pushes the public service config right after accept.
	a.mustReadUntilType(root, realtime.TypeServiceConfig, *timeout)
	if *verbose {
		fmt.Println("service config push: ok")
	}

	// Logout with no binding is a no-op but must still produce a
	// correlated result.
	res := a.mustCall(root, realtime.TypeLogout, nil, *timeout)
	if res.Type != realtime.TypeResult {
		fatalf("logout: expected result, got %s", res.Type)
	}

	mustCallExpectError(root, a, realtime.TypeLogoutAllOthers, nil, "not_authenticated", *timeout)
	mustCallExpectError(root, a, realtime.TypeLogin, json.RawMessage(`{}`), "unrecognized_login_request", *timeout)
	mustCallExpectError(root, a, "bogus.type", nil, "unsupported", *timeout)

	if *user == "" || *password == "" {
		fmt.Println("OK (unauthenticated checks only; pass -user/-password for the full flow)")
		return
	}

	loginReq := mustJSON(map[string]any{"user": *user, "password": *password})
	loginRes := a.mustCall(root, realtime.TypeLogin, loginReq, *timeout)

	var lr struct {
		ID    string `json:"id"`
		Token string `json:"token"`
	}
	if err := json.Unmarshal(loginRes.Payload, &lr); err != nil {
		fatalf("unmarshal login result: %v", err)
	}
	if lr.ID == "" || lr.Token == "" {
		fatalf("login result missing id/token: %s", string(loginRes.Payload))
	}
	if *verbose {
		fmt.Printf("login: user_id=%s\n", lr.ID)
	}

	// The fresh binding gets its own record projection.
	a.mustReadUntilType(root, realtime.TypeUserUpdated, *timeout)

	// Resume the same credential on a second connection.
	b := mustConnect(root, "B", *wsURL, *origin, *timeout)
	defer closeWS(b.conn)
	b.mustReadUntilType(root, realtime.TypeServiceConfig, *timeout)

	resumeReq := mustJSON(map[string]any{"resume": lr.Token})
	resumeRes := b.mustCall(root, realtime.TypeLogin, resumeReq, *timeout)

	var rr struct {
		ID    string `json:"id"`
		Token string `json:"token"`
	}
	if err := json.Unmarshal(resumeRes.Payload, &rr); err != nil {
		fatalf("unmarshal resume result: %v", err)
	}
	if rr.ID != lr.ID {
		fatalf("resume: user mismatch: got=%s want=%s", rr.ID, lr.ID)
	}
	if rr.Token != lr.Token {
		fatalf("resume must echo the presented token, got a different one")
	}

	// Revoking every other session must evict B: its token was replaced.
	allRes := a.mustCall(root, realtime.TypeLogoutAllOthers, nil, *timeout)
	var ar struct {
		Token string `json:"token"`
	}
	if err := json.Unmarshal(allRes.Payload, &ar); err != nil {
		fatalf("unmarshal logout_all_others result: %v", err)
	}
	if ar.Token == "" || ar.Token == lr.Token {
		fatalf("logout_all_others must mint a fresh token")
	}

	b.mustBeClosedWithin(*evictBy)

	fmt.Printf("OK: user_id=%s evicted_stale_session=true\n", lr.ID)
}

func validateWSURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return fmt.Errorf("unsupported scheme: %s", u.Scheme)
	}
	if strings.TrimSpace(u.Host) == "" {
		return errors.New("missing host")
	}
	if strings.TrimSpace(u.Path) == "" {
		return errors.New("missing path")
	}
	return nil
}

func validateOrigin(raw string) error {
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("origin must be http/https, got: %s", u.Scheme)
	}
	if strings.TrimSpace(u.Host) == "" {
		return errors.New("origin missing host")
	}
	return nil
}

func mustConnect(parent context.Context, name, wsURL, origin string, stepTimeout time.Duration) *smokeClient {
	ctx, cancel := context.WithTimeout(parent, stepTimeout)
	defer cancel()

	h := http.Header{}
	if strings.TrimSpace(origin) != "" {
		h.Set("Origin", origin)
	}

	conn, resp, err := websocket.Dial(ctx, wsURL, &websocket.DialOptions{
		Subprotocols: []string{defaultSubprotocol},
		HTTPHeader:   h,
	})
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}

	if err != nil {
		fatalf("connect %s: %v", name, err)
	}

	assertSubprotocol(resp, defaultSubprotocol)

	conn.SetReadLimit(maxReadBytes)

	c := &smokeClient{
		name:  name,
		conn:  conn,
		inbox: make(chan realtime.Envelope, 512),
		errCh: make(chan error, 1),
	}
	c.startReadLoop()

	return c
}

func assertSubprotocol(resp *http.Response, want string) {
	if resp == nil {
		return
	}
	got := strings.TrimSpace(resp.Header.Get("Sec-WebSocket-Protocol"))
	if got == "" {
		return
	}
	if got != want {
		fatalf("subprotocol mismatch: got=%q want=%q", got, want)
	}
}

func (c *smokeClient) startReadLoop() {
	go func() {
		defer close(c.inbox)

		for {
			mt, data, err := c.conn.Read(context.Background())
			if err != nil {
				select {
				case c.errCh <- err:
				default:
				}
				return
			}

			if mt != websocket.MessageText && mt != websocket.MessageBinary {
				select {
				case c.errCh <- fmt.Errorf("unsupported message type: %v", mt):
				default:
				}
				return
			}

			var env realtime.Envelope
			if err := json.Unmarshal(data, &env); err != nil {
				select {
				case c.errCh <- fmt.Errorf("bad json: %w", err):
				default:
				}
				return
			}
			if err := env.Validate(); err != nil {
				select {
				case c.errCh <- fmt.Errorf("bad envelope: %w", err):
				default:
				}
				return
			}

			select {
			case c.inbox <- env:
			default:
				select {
				case c.errCh <- errors.New("inbox overflow: consumer too slow"):
				default:
				}
				return
			}
		}
	}()
}

// mustCall writes a call envelope and waits for its correlated reply
// (result or error), skipping pushes that arrive in between.
func (c *smokeClient) mustCall(parent context.Context, typ string, payload json.RawMessage, stepTimeout time.Duration) realtime.Envelope {
	callID := fmt.Sprintf("%s-%s-%d", c.name, typ, time.Now().UnixNano())

	env := realtime.Envelope{
		Type:    typ,
		ID:      callID,
		TS:      time.Now().UTC(),
		Payload: payload,
	}
	mustWriteWithTimeout(parent, c.conn, env, stepTimeout)

	deadline := time.After(stepTimeout)
	for {
		select {
		case got, ok := <-c.inbox:
			if !ok {
				fatalf("%s: connection closed waiting for reply to %s", c.name, typ)
			}
			if got.ID != callID {
				continue
			}
			if got.Type != realtime.TypeResult && got.Type != realtime.TypeError {
				fatalf("%s: unexpected reply type %s for %s", c.name, got.Type, typ)
			}
			return got
		case err := <-c.errCh:
			fatalf("%s: read error waiting for reply to %s: %v", c.name, typ, err)
		case <-deadline:
			fatalf("%s: timeout waiting for reply to %s", c.name, typ)
		}
	}
}

func mustCallExpectError(parent context.Context, c *smokeClient, typ string, payload json.RawMessage, wantCode string, stepTimeout time.Duration) {
	got := c.mustCall(parent, typ, payload, stepTimeout)
	if got.Type != realtime.TypeError {
		fatalf("%s: expected error %q for %s, got %s", c.name, wantCode, typ, got.Type)
	}
	var p realtime.ErrorPayload
	if err := json.Unmarshal(got.Payload, &p); err != nil {
		fatalf("%s: unmarshal error payload: %v", c.name, err)
	}
	if p.Code != wantCode {
		fatalf("%s: error code mismatch for %s: got=%q want=%q", c.name, typ, p.Code, wantCode)
	}
}

func (c *smokeClient) mustReadUntilType(parent context.Context, typ string, stepTimeout time.Duration) realtime.Envelope {
	deadline := time.After(stepTimeout)
	for {
		select {
		case <-parent.Done():
			fatalf("%s: canceled waiting for %s: %v", c.name, typ, parent.Err())
		case got, ok := <-c.inbox:
			if !ok {
				fatalf("%s: connection closed waiting for %s", c.name, typ)
			}
			if got.Type == typ {
				return got
			}
		case err := <-c.errCh:
			fatalf("%s: read error waiting for %s: %v", c.name, typ, err)
		case <-deadline:
			fatalf("%s: timeout waiting for %s", c.name, typ)
		}
	}
}

// mustBeClosedWithin waits for the server to drop the connection.
func (c *smokeClient) mustBeClosedWithin(d time.Duration) {
	deadline := time.After(d)
	for {
		select {
		case _, ok := <-c.inbox:
			if !ok {
				return
			}
		case <-c.errCh:
			return
		case <-deadline:
			fatalf("%s: still connected after %s, expected eviction", c.name, d)
		}
	}
}

func mustWriteWithTimeout(parent context.Context, conn *websocket.Conn, env realtime.Envelope, stepTimeout time.Duration) {
	ctx, cancel := context.WithTimeout(parent, stepTimeout)
	defer cancel()

	b, err := json.Marshal(env)
	if err != nil {
		fatalf("marshal envelope: %v", err)
	}
	if err := conn.Write(ctx, websocket.MessageText, b); err != nil {
		fatalf("write envelope: %v", err)
	}
}

func mustJSON(v any) json.RawMessage {
	b, err := json.Marshal(v)
	if err != nil {
		fatalf("marshal: %v", err)
	}
	return b
}

func closeWS(conn *websocket.Conn) {
	if conn != nil {
		_ = conn.Close(websocket.StatusNormalClosure, "bye")
	}
}

func fatalf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "FAIL: "+format+"\n", args...)
	os.Exit(1)
}
