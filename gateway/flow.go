package gateway

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"log/slog"
)

// AuthFlow owns the CSRF state for the authorization-code flow and drives
// the token exchanges on callback. One state value is minted per process;
// the gateway serves a single user.
type AuthFlow struct {
	state  string
	tokens *TokenExchanger
	creds  *CredentialStore
	logger *slog.Logger
}

// NewAuthFlow mints a fresh random state and wires the collaborators.
func NewAuthFlow(tokens *TokenExchanger, creds *CredentialStore, logger *slog.Logger) *AuthFlow {
	return &AuthFlow{
		state:  randomState(),
		tokens: tokens,
		creds:  creds,
		logger: logger,
	}
}

// BeginLogin returns the hosted-login URL carrying the current state. Pure
// function of configuration; no side effects.
func (f *AuthFlow) BeginLogin() string {
	return f.tokens.AuthCodeURL(f.state)
}

// HandleCallback validates the round-tripped state, exchanges the code for
// a refresh token and the refresh token for an id token, and overwrites the
// credential store. The state check runs before any network call; the
// refresh token never leaves this call stack.
func (f *AuthFlow) HandleCallback(ctx context.Context, code, state string) error {
	if state != f.state {
		f.logger.Warn("callback rejected", "reason", "state mismatch")
		return ErrStateMismatch
	}

	refreshToken, err := f.tokens.ExchangeCode(ctx, code)
	if err != nil {
		return err
	}
	idToken, err := f.tokens.ExchangeRefreshToken(ctx, refreshToken)
	if err != nil {
		return err
	}

	f.creds.Set(idToken)
	f.logger.Info("user authenticated")
	return nil
}

func randomState() string {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		panic("crypto/rand unavailable: " + err.Error())
	}
	return hex.EncodeToString(b)
}
