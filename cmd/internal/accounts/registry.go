package accounts

import (
	"context"
	"time"

	"quay/cmd/identity"
)

// LoginRequest is the opaque options object a client sends with a login
// call. Handlers decide for themselves whether a request is theirs based
// on its shape.
type LoginRequest map[string]any

// StringField returns the named field if it is a non-empty string.
func (r LoginRequest) StringField(key string) (string, bool) {
	v, ok := r[key].(string)
	if !ok || v == "" {
		return "", false
	}
	return v, true
}

// LoginResult is returned by a successful login or identity creation.
// TokenExpires is advisory; a client may compute it from the configured
// lifetime when absent.
type LoginResult struct {
	UserID       string     `json:"id"`
	Token        string     `json:"token,omitempty"`
	TokenExpires *time.Time `json:"tokenExpires,omitempty"`
}

// LoginHandler is a pluggable authenticator.
//
// Attempt returns handled=false to signal "not mine" (the next handler is
// tried), a non-nil result on success, or handled=true with a nil result
// for an interactive flow the user abandoned. An error aborts the whole
// dispatch immediately; handlers are trusted to produce caller-safe
// messages.
type LoginHandler interface {
	Name() string
	Attempt(ctx context.Context, req LoginRequest) (res *LoginResult, handled bool, err error)
}

// CreationHook shapes a new identity record before it is persisted.
// It receives the caller's options and the partial record (id, createdAt
// and any generated token already set) and returns the record to persist.
type CreationHook func(opts CreateIdentityInput, rec identity.Record) identity.Record

// ValidationHook is a predicate over a fully built identity record. All
// registered hooks must accept the record before it is persisted.
type ValidationHook func(rec identity.Record) bool

// Registry holds the process-lifetime login registries: the ordered
// handler list, at most one creation hook, and the validation-hook list.
//
// All registration happens at startup, before traffic begins; dispatch
// reads the registries without locking.
type Registry struct {
	handlers     []LoginHandler
	creationHook CreationHook
	validation   []ValidationHook
}

// NewRegistry constructs an empty Registry.
func NewRegistry() *Registry { return &Registry{} }

// Register appends a handler. Registration order is dispatch order, which
// determines precedence when several mechanisms could interpret the same
// input shape; built-in mechanisms (resume) should register early.
func (r *Registry) Register(h LoginHandler) {
	if h == nil {
		return
	}
	r.handlers = append(r.handlers, h)
}

// HasHandler reports whether a handler with the given name is registered.
func (r *Registry) HasHandler(name string) bool {
	for _, h := range r.handlers {
		if h.Name() == name {
			return true
		}
	}
	return false
}

// SetCreationHook installs the single creation hook. Once set it cannot be
// replaced; a second call returns ErrCreationHookSet.
func (r *Registry) SetCreationHook(h CreationHook) error {
	if r.creationHook != nil {
		return ErrCreationHookSet
	}
	r.creationHook = h
	return nil
}

// CreationHook returns the installed hook, or nil.
func (r *Registry) CreationHook() CreationHook { return r.creationHook }

// AddValidationHook appends a validation hook.
func (r *Registry) AddValidationHook(h ValidationHook) {
	if h == nil {
		return
	}
	r.validation = append(r.validation, h)
}

// ValidationHooks returns the registered validation hooks in order.
func (r *Registry) ValidationHooks() []ValidationHook { return r.validation }

// Dispatch tries each handler in registration order. The first handler
// that claims the request wins; its error, if any, aborts the chain. A
// claimed request with a nil result propagates as (nil, nil) — the
// abandoned-flow case. If no handler claims the request, Dispatch fails
// with ErrUnrecognizedLoginRequest.
func (r *Registry) Dispatch(ctx context.Context, req LoginRequest) (*LoginResult, error) {
	for _, h := range r.handlers {
		res, handled, err := h.Attempt(ctx, req)
		if err != nil {
			metricLoginFailures.WithLabelValues(h.Name()).Inc()
			return nil, err
		}
		if !handled {
			continue
		}
		if res != nil {
			metricLogins.WithLabelValues(h.Name()).Inc()
		}
		return res, nil
	}
	return nil, ErrUnrecognizedLoginRequest
}
