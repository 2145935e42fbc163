package oidc_test

import (
	"context"
	"net/http"
	"testing"

	"github.com/aussiebroadwan/tokengate/internal/testidp"
	"github.com/aussiebroadwan/tokengate/pkg/oidc"
	"github.com/stretchr/testify/require"
)

func TestFetchUserInfo(t *testing.T) {
	t.Run("returns claims", func(t *testing.T) {
		f := newExchangeFixture(t, oidc.ClientConfig{}, oidc.Endpoints{})
		f.idp.SetUserInfo(map[string]any{"sub": "user-42", "name": "Ada"})

		info, ok := f.exchanger.FetchUserInfo(context.Background(), "access-1")
		require.True(t, ok)
		require.Equal(t, "user-42", info["sub"])
		require.Equal(t, "Ada", info["name"])
	})

	t.Run("no endpoint", func(t *testing.T) {
		f := newExchangeFixture(t, oidc.ClientConfig{}, oidc.Endpoints{})
		f.idp.Omit(testidp.PathUserInfo)

		info, ok := f.exchanger.FetchUserInfo(context.Background(), "access-1")
		require.False(t, ok)
		require.Nil(t, info)
	})

	t.Run("IdP rejects", func(t *testing.T) {
		f := newExchangeFixture(t, oidc.ClientConfig{}, oidc.Endpoints{})
		f.idp.Fail(testidp.PathUserInfo, http.StatusUnauthorized)

		_, ok := f.exchanger.FetchUserInfo(context.Background(), "access-1")
		require.False(t, ok)
	})

	t.Run("not an object", func(t *testing.T) {
		endpoints := oidc.NewEndpointResolver(oidc.Endpoints{UserInfo: "https://idp.example.com/userinfo"}, nil)
		ex := oidc.NewExchanger(oidc.ClientConfig{ClientID: "abc"}, endpoints, nil,
			oidc.WithHTTPClient(staticClient(http.StatusOK, `["sub"]`)))

		_, ok := ex.FetchUserInfo(context.Background(), "access-1")
		require.False(t, ok)
	})

	t.Run("sends bearer token", func(t *testing.T) {
		var got string
		client := &http.Client{Transport: roundTripFunc(func(r *http.Request) (*http.Response, error) {
			got = r.Header.Get("Authorization")
			return staticClient(http.StatusOK, `{"sub":"u"}`).Transport.RoundTrip(r)
		})}
		endpoints := oidc.NewEndpointResolver(oidc.Endpoints{UserInfo: "https://idp.example.com/userinfo"}, nil)
		ex := oidc.NewExchanger(oidc.ClientConfig{ClientID: "abc"}, endpoints, nil, oidc.WithHTTPClient(client))

		_, ok := ex.FetchUserInfo(context.Background(), "access-1")
		require.True(t, ok)
		require.Equal(t, "Bearer access-1", got)
	})
}
