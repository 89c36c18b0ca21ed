package gateway

import (
	"errors"
	"fmt"
)

var (
	// ErrStateMismatch rejects a callback whose state parameter does not
	// match the minted CSRF state. Checked before any network call.
	ErrStateMismatch = errors.New("csrf state mismatch")

	// ErrUnauthenticated means no id token has been obtained yet. Callers
	// must not attempt an authorized call when they see this.
	ErrUnauthenticated = errors.New("not authenticated, visit /login first")
)

// TokenExchangeError wraps a failed token-endpoint call with the upstream
// status and body. Token endpoints are not assumed safe to blind-retry, so
// these are terminal for the current flow.
type TokenExchangeError struct {
	Status int
	Body   string
	Err    error
}

func (e *TokenExchangeError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("token endpoint returned %d: %s", e.Status, e.Body)
	}
	return fmt.Sprintf("token endpoint call failed: %v", e.Err)
}

func (e *TokenExchangeError) Unwrap() error { return e.Err }
