package oidc

import (
	"context"

	"golang.org/x/oauth2"
)

// PKCE is a code verifier with its S256 challenge (RFC 7636).
type PKCE struct {
	Verifier  string
	Challenge string
	Method    string
}

// NewPKCE generates a fresh verifier and its challenge.
func NewPKCE() PKCE {
	verifier := oauth2.GenerateVerifier()
	return PKCE{
		Verifier:  verifier,
		Challenge: oauth2.S256ChallengeFromVerifier(verifier),
		Method:    "S256",
	}
}

// AuthorizationRequest describes the login redirect. Empty Scopes and
// RedirectURI use the configured ones.
type AuthorizationRequest struct {
	State        string
	Nonce        string
	CodeVerifier string
	Scopes       []string
	RedirectURI  string
}

// AuthorizationURL builds the URL the browser is sent to for login.
func (e *Exchanger) AuthorizationURL(ctx context.Context, req AuthorizationRequest) (string, error) {
	if req.State == "" {
		return "", ErrMissingState
	}

	authURL, err := e.endpoints.AuthorizationEndpoint(ctx)
	if err != nil {
		return "", err
	}

	cfg := oauth2.Config{
		ClientID:    e.cfg.ClientID,
		RedirectURL: e.cfg.RedirectURI,
		Scopes:      e.cfg.Scopes,
		Endpoint: oauth2.Endpoint{
			AuthURL:   authURL,
			AuthStyle: oauth2.AuthStyleInParams,
		},
	}
	if req.RedirectURI != "" {
		cfg.RedirectURL = req.RedirectURI
	}
	if len(req.Scopes) > 0 {
		cfg.Scopes = req.Scopes
	}

	var opts []oauth2.AuthCodeOption
	if req.CodeVerifier != "" {
		opts = append(opts, oauth2.S256ChallengeOption(req.CodeVerifier))
	}
	if req.Nonce != "" {
		opts = append(opts, oauth2.SetAuthURLParam("nonce", req.Nonce))
	}

	return cfg.AuthCodeURL(req.State, opts...), nil
}
