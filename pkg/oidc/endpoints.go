package oidc

import (
	"context"
	"fmt"
)

// Endpoints are optional per-endpoint overrides. An empty field means "ask
// the discovery document".
type Endpoints struct {
	Token         string
	JWKS          string
	UserInfo      string
	Revocation    string
	Authorization string
}

// EndpointResolver picks the override when there is one and falls back to
// discovery otherwise. Overrides never trigger a discovery fetch.
type EndpointResolver struct {
	overrides Endpoints
	discovery *DiscoveryCache
}

// NewEndpointResolver builds a resolver. discovery may be nil when every
// endpoint in use is overridden.
func NewEndpointResolver(overrides Endpoints, discovery *DiscoveryCache) *EndpointResolver {
	return &EndpointResolver{overrides: overrides, discovery: discovery}
}

func (r *EndpointResolver) resolve(ctx context.Context, name, override string, pick func(*DiscoveryDocument) string) (string, error) {
	if override != "" {
		return override, nil
	}
	if r.discovery == nil {
		return "", nil
	}
	doc, err := r.discovery.Document(ctx)
	if err != nil {
		return "", fmt.Errorf("resolve %s: %w", name, err)
	}
	return pick(doc), nil
}

func required(name, v string, err error) (string, error) {
	if err != nil {
		return "", err
	}
	if v == "" {
		return "", fmt.Errorf("%w: %s", ErrNoEndpoint, name)
	}
	return v, nil
}

// TokenEndpoint is required, an empty result is an error.
func (r *EndpointResolver) TokenEndpoint(ctx context.Context) (string, error) {
	v, err := r.resolve(ctx, "token_endpoint", r.overrides.Token, func(d *DiscoveryDocument) string { return d.TokenEndpoint })
	return required("token_endpoint", v, err)
}

// JWKSURI is required, an empty result is an error.
func (r *EndpointResolver) JWKSURI(ctx context.Context) (string, error) {
	v, err := r.resolve(ctx, "jwks_uri", r.overrides.JWKS, func(d *DiscoveryDocument) string { return d.JWKSURI })
	return required("jwks_uri", v, err)
}

// AuthorizationEndpoint is required, an empty result is an error.
func (r *EndpointResolver) AuthorizationEndpoint(ctx context.Context) (string, error) {
	v, err := r.resolve(ctx, "authorization_endpoint", r.overrides.Authorization, func(d *DiscoveryDocument) string { return d.AuthorizationEndpoint })
	return required("authorization_endpoint", v, err)
}

// UserInfoEndpoint may legitimately be empty.
func (r *EndpointResolver) UserInfoEndpoint(ctx context.Context) (string, error) {
	return r.resolve(ctx, "userinfo_endpoint", r.overrides.UserInfo, func(d *DiscoveryDocument) string { return d.UserInfoEndpoint })
}

// RevocationEndpoint may legitimately be empty.
func (r *EndpointResolver) RevocationEndpoint(ctx context.Context) (string, error) {
	return r.resolve(ctx, "revocation_endpoint", r.overrides.Revocation, func(d *DiscoveryDocument) string { return d.RevocationEndpoint })
}
