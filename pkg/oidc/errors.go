package oidc

import (
	"encoding/json"
	"errors"
	"fmt"
)

var (
	ErrDiscoveryFetchFailed = errors.New("oidc: discovery fetch failed")
	ErrInvalidIdPResponse   = errors.New("oidc: invalid response from identity provider")

	ErrJWKSFetchFailed    = errors.New("oidc: JWKS fetch failed")
	ErrInvalidJWKSPayload = errors.New("oidc: invalid JWKS payload")
	ErrKeyNotFound        = errors.New("oidc: signing key not found")

	ErrTokenEndpoint           = errors.New("oidc: token endpoint error")
	ErrInvalidTokenResponse    = errors.New("oidc: invalid token response")
	ErrIdPReturnedInvalidToken = errors.New("oidc: identity provider returned an invalid token")

	ErrNoEndpoint   = errors.New("oidc: endpoint not configured")
	ErrMissingState = errors.New("oidc: authorization request without state")
)

// StatusError is a non-2xx answer from the IdP. Body is kept for logging
// and is never part of Error(), it may contain things we must not echo.
type StatusError struct {
	Op         string
	StatusCode int
	Body       string

	// Code is the OAuth2 "error" field when the body carried one.
	Code string

	kind error
}

func newStatusError(kind error, op string, status int, body []byte) *StatusError {
	e := &StatusError{Op: op, StatusCode: status, Body: string(body), kind: kind}

	var oauthErr struct {
		Error string `json:"error"`
	}
	if json.Unmarshal(body, &oauthErr) == nil {
		e.Code = oauthErr.Error
	}
	return e
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s: %s returned status %d", e.kind, e.Op, e.StatusCode)
}

func (e *StatusError) Unwrap() error { return e.kind }

// KeyNotFoundError is returned when a kid is still unknown after the JWKS
// has been refetched.
type KeyNotFoundError struct {
	Kid string
}

func (e *KeyNotFoundError) Error() string {
	return fmt.Sprintf("%s: kid %q", ErrKeyNotFound, e.Kid)
}

func (e *KeyNotFoundError) Is(target error) bool { return target == ErrKeyNotFound }
