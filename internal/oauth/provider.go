// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Keyfold Contributors

// Package oauth resolves external-identity assertions from OAuth providers.
package oauth

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/samber/oops"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/github"
	"golang.org/x/oauth2/google"

	"github.com/keyfold/keyfold/internal/auth"
)

// fetchTimeout bounds a single userinfo request to the provider.
const fetchTimeout = 10 * time.Second

// stateBytes is the entropy of the CSRF state parameter.
const stateBytes = 16

// Error codes attached to oauth failures.
const (
	CodeUnknownProvider = "OAUTH_UNKNOWN_PROVIDER"
	CodeExchangeFailed  = "OAUTH_EXCHANGE_FAILED"
	CodeUserInfoFailed  = "OAUTH_USERINFO_FAILED"
	CodeStateFailed     = "OAUTH_STATE_FAILED"
)

// ProviderCredentials holds the client credentials for one provider.
type ProviderCredentials struct {
	ClientID     string
	ClientSecret string
}

// Config configures the provider registry. RedirectBase is the public
// origin callbacks are registered under, e.g. "https://api.example.com".
type Config struct {
	RedirectBase string
	Google       ProviderCredentials
	GitHub       ProviderCredentials
}

// Provider is one configured OAuth identity provider.
type Provider struct {
	name        string
	oauth       *oauth2.Config
	userInfoURL string
	parse       func(body []byte) (string, auth.Profile, error)
}

// Registry holds the configured providers keyed by name.
type Registry struct {
	providers map[string]*Provider
	client    *http.Client
}

// NewRegistry builds a registry from config. Providers without credentials
// are simply absent; requesting one fails with ErrUnknownProvider.
func NewRegistry(cfg Config) *Registry {
	r := &Registry{
		providers: make(map[string]*Provider),
		client:    &http.Client{Timeout: fetchTimeout},
	}

	if cfg.Google.ClientID != "" {
		r.providers["google"] = &Provider{
			name: "google",
			oauth: &oauth2.Config{
				ClientID:     cfg.Google.ClientID,
				ClientSecret: cfg.Google.ClientSecret,
				RedirectURL:  cfg.RedirectBase + "/auth/oauth/google/callback",
				Scopes:       []string{"openid", "profile", "email"},
				Endpoint:     google.Endpoint,
			},
			userInfoURL: "https://openidconnect.googleapis.com/v1/userinfo",
			parse:       parseGoogleProfile,
		}
	}

	if cfg.GitHub.ClientID != "" {
		r.providers["github"] = &Provider{
			name: "github",
			oauth: &oauth2.Config{
				ClientID:     cfg.GitHub.ClientID,
				ClientSecret: cfg.GitHub.ClientSecret,
				RedirectURL:  cfg.RedirectBase + "/auth/oauth/github/callback",
				Scopes:       []string{"read:user", "user:email"},
				Endpoint:     github.Endpoint,
			},
			userInfoURL: "https://api.github.com/user",
			parse:       parseGitHubProfile,
		}
	}

	return r
}

// ErrUnknownProvider is returned for provider names not in the registry.
var ErrUnknownProvider = oops.Code(CodeUnknownProvider).Errorf("unknown oauth provider")

// Get returns the named provider.
func (r *Registry) Get(name string) (*Provider, error) {
	p, ok := r.providers[name]
	if !ok {
		return nil, oops.With("provider", name).Wrap(ErrUnknownProvider)
	}
	return p, nil
}

// Name returns the provider's registry name.
func (p *Provider) Name() string { return p.name }

// AuthCodeURL returns the provider's consent page URL for the given state.
func (p *Provider) AuthCodeURL(state string) string {
	return p.oauth.AuthCodeURL(state)
}

// ResolveIdentity exchanges an authorization code and fetches the subject's
// profile. Returns the provider-scoped subject ID and the asserted profile.
func (r *Registry) ResolveIdentity(ctx context.Context, p *Provider, code string) (string, auth.Profile, error) {
	ctx = context.WithValue(ctx, oauth2.HTTPClient, r.client)

	token, err := p.oauth.Exchange(ctx, code)
	if err != nil {
		return "", auth.Profile{}, oops.Code(CodeExchangeFailed).
			With("provider", p.name).
			Wrap(err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.userInfoURL, nil)
	if err != nil {
		return "", auth.Profile{}, oops.Code(CodeUserInfoFailed).
			With("provider", p.name).
			Wrap(err)
	}
	token.SetAuthHeader(req)

	resp, err := r.client.Do(req)
	if err != nil {
		return "", auth.Profile{}, oops.Code(CodeUserInfoFailed).
			With("provider", p.name).
			Wrap(err)
	}
	defer resp.Body.Close() //nolint:errcheck // read-only body

	if resp.StatusCode != http.StatusOK {
		return "", auth.Profile{}, oops.Code(CodeUserInfoFailed).
			With("provider", p.name).
			With("status", resp.StatusCode).
			Errorf("userinfo request failed")
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", auth.Profile{}, oops.Code(CodeUserInfoFailed).
			With("provider", p.name).
			Wrap(err)
	}

	return p.parse(body)
}

// GenerateState creates a random state parameter for the consent redirect.
func GenerateState() (string, error) {
	b := make([]byte, stateBytes)
	if _, err := rand.Read(b); err != nil {
		return "", oops.Code(CodeStateFailed).Wrap(err)
	}
	return hex.EncodeToString(b), nil
}

type googleUserInfo struct {
	Sub     string `json:"sub"`
	Email   string `json:"email"`
	Name    string `json:"name"`
	Picture string `json:"picture"`
}

func parseGoogleProfile(body []byte) (string, auth.Profile, error) {
	var info googleUserInfo
	if err := json.Unmarshal(body, &info); err != nil {
		return "", auth.Profile{}, oops.Code(CodeUserInfoFailed).
			With("provider", "google").
			Wrap(err)
	}
	if info.Sub == "" {
		return "", auth.Profile{}, oops.Code(CodeUserInfoFailed).
			With("provider", "google").
			Errorf("userinfo response missing subject")
	}
	return info.Sub, auth.Profile{
		Email:       info.Email,
		DisplayName: info.Name,
		AvatarURL:   info.Picture,
	}, nil
}

type githubUserInfo struct {
	ID        int64  `json:"id"`
	Login     string `json:"login"`
	Name      string `json:"name"`
	Email     string `json:"email"`
	AvatarURL string `json:"avatar_url"`
}

func parseGitHubProfile(body []byte) (string, auth.Profile, error) {
	var info githubUserInfo
	if err := json.Unmarshal(body, &info); err != nil {
		return "", auth.Profile{}, oops.Code(CodeUserInfoFailed).
			With("provider", "github").
			Wrap(err)
	}
	if info.ID == 0 {
		return "", auth.Profile{}, oops.Code(CodeUserInfoFailed).
			With("provider", "github").
			Errorf("userinfo response missing subject")
	}
	name := info.Name
	if name == "" {
		name = info.Login
	}
	return strconv.FormatInt(info.ID, 10), auth.Profile{
		Email:       info.Email,
		DisplayName: name,
		AvatarURL:   info.AvatarURL,
	}, nil
}
