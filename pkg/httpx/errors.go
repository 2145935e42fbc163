package httpx

import (
	"errors"
	"fmt"
	"net/http"
)

// OAuth2 error codes (RFC 6749, RFC 6750).
const (
	ErrorCodeInvalidRequest       = "invalid_request"
	ErrorCodeInvalidGrant         = "invalid_grant"
	ErrorCodeUnsupportedGrantType = "unsupported_grant_type"
	ErrorCodeInvalidToken         = "invalid_token"
	ErrorCodeAccessDenied         = "access_denied"
	ErrorCodeServerError          = "server_error"
	ErrorCodeBadGateway           = "bad_gateway"
	ErrorCodeUnavailable          = "temporarily_unavailable"
)

// OAuth2Error is an RFC 6749 style error body with its HTTP status.
type OAuth2Error struct {
	StatusCode  int    `json:"-"`
	Code        string `json:"error"`
	Description string `json:"error_description"`
}

func (e *OAuth2Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Description)
}

// WithDescription returns a copy of e with a different description.
func (e *OAuth2Error) WithDescription(desc string) *OAuth2Error {
	c := *e
	c.Description = desc
	return &c
}

var (
	ErrInvalidRequest = &OAuth2Error{
		StatusCode:  http.StatusBadRequest,
		Code:        ErrorCodeInvalidRequest,
		Description: "the request is malformed or missing required parameters",
	}
	ErrInvalidContentType = &OAuth2Error{
		StatusCode:  http.StatusBadRequest,
		Code:        ErrorCodeInvalidRequest,
		Description: "content type must be application/x-www-form-urlencoded",
	}
	ErrInvalidFormBody = &OAuth2Error{
		StatusCode:  http.StatusBadRequest,
		Code:        ErrorCodeInvalidRequest,
		Description: "the form body could not be parsed",
	}
	ErrUnsupportedGrantType = &OAuth2Error{
		StatusCode:  http.StatusBadRequest,
		Code:        ErrorCodeUnsupportedGrantType,
		Description: "grant_type must be authorization_code or refresh_token",
	}
	ErrInvalidGrant = &OAuth2Error{
		StatusCode:  http.StatusBadRequest,
		Code:        ErrorCodeInvalidGrant,
		Description: "the grant was rejected by the identity provider",
	}
	ErrInvalidCredentials = &OAuth2Error{
		StatusCode:  http.StatusUnauthorized,
		Code:        ErrorCodeAccessDenied,
		Description: "invalid username or password",
	}
	ErrInvalidToken = &OAuth2Error{
		StatusCode:  http.StatusUnauthorized,
		Code:        ErrorCodeInvalidToken,
		Description: "the access token is missing, expired or invalid",
	}
	ErrLoginDisabled = &OAuth2Error{
		StatusCode:  http.StatusNotFound,
		Code:        ErrorCodeInvalidRequest,
		Description: "local login is not enabled",
	}
	ErrBadGateway = &OAuth2Error{
		StatusCode:  http.StatusBadGateway,
		Code:        ErrorCodeBadGateway,
		Description: "the identity provider could not be reached or returned an invalid response",
	}
	ErrUnavailable = &OAuth2Error{
		StatusCode:  http.StatusServiceUnavailable,
		Code:        ErrorCodeUnavailable,
		Description: "the service is not ready",
	}
	ErrServerError = &OAuth2Error{
		StatusCode:  http.StatusInternalServerError,
		Code:        ErrorCodeServerError,
		Description: "internal server error",
	}
)

// WriteError writes err as an OAuth2 error body. Anything that is not an
// *OAuth2Error becomes a generic server_error so internals never leak.
func WriteError(w http.ResponseWriter, err error) {
	var oe *OAuth2Error
	if !errors.As(err, &oe) {
		oe = ErrServerError
	}
	WriteJSON(w, oe.StatusCode, oe)
}
