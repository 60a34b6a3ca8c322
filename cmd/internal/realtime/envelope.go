package realtime

import (
	"encoding/json"
	"errors"
	"time"
)

// Protocol version negotiated as the websocket subprotocol.
const SubprotocolV1 = "quay.rpc.v1"

// Envelope types. Client-to-server types are RPC method calls; the ID
// field correlates the server's result or error reply. Server-pushed
// channel types carry no correlation id.
const (
	TypeLogin                 = "login"
	TypeLogout                = "logout"
	TypeLogoutAllOthers       = "logout_all_others"
	TypeConfigureLoginService = "configure_login_service"

	TypeResult = "result"
	TypeError  = "error"

	// Publish channels: the caller's own identity projection and the
	// non-secret login-service configuration.
	TypeUserUpdated   = "user.updated"
	TypeServiceConfig = "login_service.config"
)

// Envelope is the wire frame for every message in either direction.
type Envelope struct {
	Type    string          `json:"type"`
	ID      string          `json:"id,omitempty"`
	TS      time.Time       `json:"ts"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Validate performs shape checks that do not depend on the envelope type.
func (e Envelope) Validate() error {
	if e.Type == "" {
		return errors.New("missing type")
	}
	return nil
}

// ErrorPayload is the body of a TypeError reply.
type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// ConfigureLoginServicePayload is the body of a configure_login_service call.
// Config carries both secret and public fields; the server splits them.
type ConfigureLoginServicePayload struct {
	Service string         `json:"service"`
	Config  map[string]any `json:"config"`
}
