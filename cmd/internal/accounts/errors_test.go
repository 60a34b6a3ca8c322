package accounts

import (
	"errors"
	"fmt"
	"testing"
)

func TestErrorCode(t *testing.T) {
	t.Parallel()

	cases := []struct {
		err  error
		want string
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
		{fmt.Errorf("login: %w", ErrSessionExpired), "session_expired"},
		{errors.New("disk on fire"), "internal"},
		{nil, "internal"},
	}
	for _, c := range cases {
		if got := ErrorCode(c.err); got != c.want {
			t.Fatalf("ErrorCode(%v)=%q want=%q", c.err, got, c.want)
		}
	}
}
