package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"golang.org/x/oauth2"
)

// TokenExchanger performs the two token-endpoint calls against the
// authorization server: authorization-code -> refresh-token, then
// refresh-token -> id-token. Neither call is retried.
type TokenExchanger struct {
	oauth  *oauth2.Config
	client *http.Client
	logger *slog.Logger
}

// NewTokenExchanger builds the exchanger from configuration. The endpoints
// are fixed by the platform, so there is no discovery step. With no client
// secret configured the client authenticates by placing client_id in the
// request body (public-client mode); with a secret it uses HTTP Basic auth
// and sends no client_id field.
func NewTokenExchanger(cfg Config, logger *slog.Logger) *TokenExchanger {
	endpoint := oauth2.Endpoint{
		AuthURL:   "https://" + cfg.AuthDomain + "/login",
		TokenURL:  "https://" + cfg.AuthDomain + "/oauth2/token",
		AuthStyle: oauth2.AuthStyleInHeader,
	}
	if cfg.ClientSecret == "" {
		endpoint.AuthStyle = oauth2.AuthStyleInParams
	}

	return &TokenExchanger{
		oauth: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			RedirectURL:  cfg.RedirectURI,
			Endpoint:     endpoint,
		},
		client: &http.Client{},
		logger: logger,
	}
}

// AuthCodeURL constructs the hosted-login redirect target carrying the
// given CSRF state.
func (t *TokenExchanger) AuthCodeURL(state string) string {
	return t.oauth.AuthCodeURL(state)
}

// ExchangeCode turns a single-use authorization code into a refresh token.
// The code is consumed by this call whether or not it succeeds.
func (t *TokenExchanger) ExchangeCode(ctx context.Context, code string) (string, error) {
	tok, err := t.oauth.Exchange(t.withClient(ctx), code)
	if err != nil {
		return "", wrapExchangeError(err)
	}
	if tok.RefreshToken == "" {
		return "", &TokenExchangeError{Err: errors.New("refresh_token missing in response")}
	}
	return tok.RefreshToken, nil
}

// ExchangeRefreshToken mints a fresh id token from a refresh token.
func (t *TokenExchanger) ExchangeRefreshToken(ctx context.Context, refreshToken string) (string, error) {
	src := t.oauth.TokenSource(t.withClient(ctx), &oauth2.Token{RefreshToken: refreshToken})
	tok, err := src.Token()
	if err != nil {
		return "", wrapExchangeError(err)
	}
	idToken, ok := tok.Extra("id_token").(string)
	if !ok || idToken == "" {
		return "", &TokenExchangeError{Err: errors.New("id_token missing in response")}
	}
	return idToken, nil
}

// withClient pins the HTTP client used by the oauth2 transport, mainly so
// tests can point the exchanger at a stub endpoint.
func (t *TokenExchanger) withClient(ctx context.Context) context.Context {
	return context.WithValue(ctx, oauth2.HTTPClient, t.client)
}

func wrapExchangeError(err error) error {
	var retrieve *oauth2.RetrieveError
	if errors.As(err, &retrieve) {
		status := 0
		if retrieve.Response != nil {
			status = retrieve.Response.StatusCode
		}
		return &TokenExchangeError{Status: status, Body: string(retrieve.Body), Err: err}
	}
	return &TokenExchangeError{Err: fmt.Errorf("call token endpoint: %w", err)}
}
