package accounts

import "errors"

// Sentinel error kinds (stable for errors.Is and for mapping to RPC error codes).
var (
	// ErrNotAuthenticated: no identity is bound to the caller where one is required.
	ErrNotAuthenticated = errors.New("not_authenticated")

	// ErrUnrecognizedLoginRequest: no registered handler claimed the login options.
	ErrUnrecognizedLoginRequest = errors.New("unrecognized_login_request")

	// ErrSessionRevoked: the presented resume token is absent from the store.
	ErrSessionRevoked = errors.New("session_revoked")

	// ErrSessionExpired: the presented resume token is past its lifetime.
	ErrSessionExpired = errors.New("session_expired")

	// ErrIncorrectCredentials: a login handler rejected the supplied credentials.
	ErrIncorrectCredentials = errors.New("incorrect_credentials")

	// ErrValidationFailed: a validation hook rejected a newly built identity.
	ErrValidationFailed = errors.New("validation_failed")

	// ErrEmailExists / ErrUsernameExists: uniqueness conflict translated from
	// the store at the single insertion point.
	ErrEmailExists    = errors.New("email_already_exists")
	ErrUsernameExists = errors.New("username_already_exists")

	// ErrServiceUnknown / ErrServiceAlreadyConfigured: configuration guards.
	ErrServiceUnknown           = errors.New("service_unknown")
	ErrServiceAlreadyConfigured = errors.New("service_already_configured")

	// ErrCreationHookSet: the single creation hook cannot be replaced.
	ErrCreationHookSet = errors.New("creation_hook_already_set")

	// ErrConfig: invalid accounts configuration.
	ErrConfig = errors.New("invalid accounts config")
)

// rpcCodes lists sentinel kinds with their stable wire codes, checked in
// order. Unlisted errors are reported as "internal" without leaking their
// text classification.
var rpcCodes = []struct {
	kind error
	code string
}{
	{ErrNotAuthenticated, "not_authenticated"},
	{ErrUnrecognizedLoginRequest, "unrecognized_login_request"},
	{ErrSessionRevoked, "session_revoked"},
	{ErrSessionExpired, "session_expired"},
	{ErrIncorrectCredentials, "incorrect_credentials"},
	{ErrValidationFailed, "validation_failed"},
	{ErrEmailExists, "email_already_exists"},
	{ErrUsernameExists, "username_already_exists"},
	{ErrServiceUnknown, "service_unknown"},
	{ErrServiceAlreadyConfigured, "service_already_configured"},
}

// ErrorCode returns the stable wire code for err.
func ErrorCode(err error) string {
	for _, e := range rpcCodes {
		if errors.Is(err, e.kind) {
			return e.code
		}
	}
	return "internal"
}
