// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Keyfold Contributors

package oauth

import (
	"context"
	"encoding/hex"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"
)

func TestNewRegistry(t *testing.T) {
	t.Run("providers without credentials are absent", func(t *testing.T) {
		r := NewRegistry(Config{RedirectBase: "https://api.example.com"})
		_, err := r.Get("google")
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrUnknownProvider)
	})

	t.Run("configured providers are registered with callback URLs", func(t *testing.T) {
		r := NewRegistry(Config{
			RedirectBase: "https://api.example.com",
			Google:       ProviderCredentials{ClientID: "gid", ClientSecret: "gsec"},
			GitHub:       ProviderCredentials{ClientID: "hid", ClientSecret: "hsec"},
		})

		google, err := r.Get("google")
		require.NoError(t, err)
		assert.Equal(t, "google", google.Name())
		assert.Equal(t, "https://api.example.com/auth/oauth/google/callback", google.oauth.RedirectURL)

		github, err := r.Get("github")
		require.NoError(t, err)
		assert.Equal(t, "https://api.example.com/auth/oauth/github/callback", github.oauth.RedirectURL)
	})

	t.Run("auth code URL embeds the state", func(t *testing.T) {
		r := NewRegistry(Config{
			RedirectBase: "https://api.example.com",
			Google:       ProviderCredentials{ClientID: "gid", ClientSecret: "gsec"},
		})
		google, err := r.Get("google")
		require.NoError(t, err)
		assert.Contains(t, google.AuthCodeURL("state-xyz"), "state=state-xyz")
	})
}

func TestGenerateState(t *testing.T) {
	state, err := GenerateState()
	require.NoError(t, err)
	assert.Len(t, state, stateBytes*2)
	_, err = hex.DecodeString(state)
	assert.NoError(t, err)

	other, err := GenerateState()
	require.NoError(t, err)
	assert.NotEqual(t, state, other)
}

func TestParseGoogleProfile(t *testing.T) {
	t.Run("maps userinfo fields", func(t *testing.T) {
		subject, profile, err := parseGoogleProfile([]byte(`{
			"sub": "g-123",
			"email": "user@example.com",
			"name": "User",
			"picture": "https://lh3.example.com/a.png"
		}`))
		require.NoError(t, err)
		assert.Equal(t, "g-123", subject)
		assert.Equal(t, "user@example.com", profile.Email)
		assert.Equal(t, "User", profile.DisplayName)
		assert.Equal(t, "https://lh3.example.com/a.png", profile.AvatarURL)
	})

	t.Run("missing subject is an error", func(t *testing.T) {
		_, _, err := parseGoogleProfile([]byte(`{"email": "user@example.com"}`))
		assert.Error(t, err)
	})

	t.Run("malformed json is an error", func(t *testing.T) {
		_, _, err := parseGoogleProfile([]byte(`{`))
		assert.Error(t, err)
	})
}

func TestParseGitHubProfile(t *testing.T) {
	t.Run("maps user fields", func(t *testing.T) {
		subject, profile, err := parseGitHubProfile([]byte(`{
			"id": 42,
			"login": "octo",
			"name": "Octo Cat",
			"email": "octo@example.com",
			"avatar_url": "https://avatars.example.com/42"
		}`))
		require.NoError(t, err)
		assert.Equal(t, "42", subject)
		assert.Equal(t, "Octo Cat", profile.DisplayName)
		assert.Equal(t, "octo@example.com", profile.Email)
	})

	t.Run("login stands in for a missing name", func(t *testing.T) {
		_, profile, err := parseGitHubProfile([]byte(`{"id": 42, "login": "octo"}`))
		require.NoError(t, err)
		assert.Equal(t, "octo", profile.DisplayName)
	})

	t.Run("missing id is an error", func(t *testing.T) {
		_, _, err := parseGitHubProfile([]byte(`{"login": "octo"}`))
		assert.Error(t, err)
	})
}

func TestResolveIdentity(t *testing.T) {
	newTestProvider := func(tokenURL, userInfoURL string) *Provider {
		return &Provider{
			name: "google",
			oauth: &oauth2.Config{
				ClientID:     "gid",
				ClientSecret: "gsec",
				Endpoint:     oauth2.Endpoint{TokenURL: tokenURL},
			},
			userInfoURL: userInfoURL,
			parse:       parseGoogleProfile,
		}
	}

	t.Run("exchanges the code and fetches the profile", func(t *testing.T) {
		mux := http.NewServeMux()
		mux.HandleFunc("/token", func(w http.ResponseWriter, _ *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{"access_token": "at-1", "token_type": "Bearer"}`))
		})
		mux.HandleFunc("/userinfo", func(w http.ResponseWriter, r *http.Request) {
			if r.Header.Get("Authorization") != "Bearer at-1" {
				w.WriteHeader(http.StatusUnauthorized)
				return
			}
			_, _ = w.Write([]byte(`{"sub": "g-123", "email": "user@example.com", "name": "User"}`))
		})
		srv := httptest.NewServer(mux)
		defer srv.Close()

		r := &Registry{client: srv.Client()}
		p := newTestProvider(srv.URL+"/token", srv.URL+"/userinfo")

		subject, profile, err := r.ResolveIdentity(context.Background(), p, "code-1")
		require.NoError(t, err)
		assert.Equal(t, "g-123", subject)
		assert.Equal(t, "user@example.com", profile.Email)
	})

	t.Run("rejected code fails with exchange code", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusBadRequest)
			_, _ = w.Write([]byte(`{"error": "invalid_grant"}`))
		}))
		defer srv.Close()

		r := &Registry{client: srv.Client()}
		p := newTestProvider(srv.URL+"/token", srv.URL+"/userinfo")

		_, _, err := r.ResolveIdentity(context.Background(), p, "bad-code")
		require.Error(t, err)
	})

	t.Run("userinfo failure surfaces as an error", func(t *testing.T) {
		mux := http.NewServeMux()
		mux.HandleFunc("/token", func(w http.ResponseWriter, _ *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{"access_token": "at-1", "token_type": "Bearer"}`))
		})
		mux.HandleFunc("/userinfo", func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusInternalServerError)
		})
		srv := httptest.NewServer(mux)
		defer srv.Close()

		r := &Registry{client: srv.Client()}
		p := newTestProvider(srv.URL+"/token", srv.URL+"/userinfo")

		_, _, err := r.ResolveIdentity(context.Background(), p, "code-1")
		require.Error(t, err)
	})
}
