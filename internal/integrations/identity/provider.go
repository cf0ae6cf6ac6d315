// Package identity signs users in against Azure AD (v2 endpoint) with the
// OAuth authorization-code flow and yields delegated Graph tokens.
package identity

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/microsoft"

	"travel-time-bot/internal/domain"
)

// ProviderAADv2 names the provider in sign-in routes and pending prompts.
const ProviderAADv2 = "aadv2"

var (
	ErrNoDisplayName = errors.New("identity: profile has no display name")
	ErrNoIDToken     = errors.New("identity: token response has no id_token")
)

// DefaultScopes are the delegated permissions the calendar workers need.
var DefaultScopes = []string{
	"openid",
	"profile",
	"Calendars.ReadWrite",
	"User.Read",
	"offline_access",
	"https://graph.microsoft.com/mail.read",
}

type Config struct {
	ClientID     string
	ClientSecret string
	// Tenant is the directory realm; "common" accepts any account.
	Tenant      string
	RedirectURL string
	Scopes      []string
}

type Provider struct {
	oauth *oauth2.Config
}

type Option func(*oauth2.Config)

// WithEndpoint points the provider at a different authorization server.
func WithEndpoint(ep oauth2.Endpoint) Option {
	return func(c *oauth2.Config) {
		c.Endpoint = ep
	}
}

func NewProvider(cfg Config, opts ...Option) (*Provider, error) {
	if strings.TrimSpace(cfg.ClientID) == "" {
		return nil, errors.New("identity: client id must not be empty")
	}
	if strings.TrimSpace(cfg.RedirectURL) == "" {
		return nil, errors.New("identity: redirect url must not be empty")
	}
	tenant := strings.TrimSpace(cfg.Tenant)
	if tenant == "" {
		tenant = "common"
	}
	scopes := cfg.Scopes
	if len(scopes) == 0 {
		scopes = DefaultScopes
	}
	oc := &oauth2.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		Endpoint:     microsoft.AzureADEndpoint(tenant),
		RedirectURL:  cfg.RedirectURL,
		Scopes:       scopes,
	}
	for _, opt := range opts {
		opt(oc)
	}
	return &Provider{oauth: oc}, nil
}

// AuthCodeURL returns the provider's consent page for state.
func (p *Provider) AuthCodeURL(state string) string {
	return p.oauth.AuthCodeURL(state, oauth2.SetAuthURLParam("response_mode", "query"))
}

type idTokenClaims struct {
	OID  string `json:"oid"`
	Name string `json:"name"`
	jwt.RegisteredClaims
}

// Exchange redeems an authorization code. The id_token comes straight from
// the token endpoint, so its claims are read without signature verification.
func (p *Provider) Exchange(ctx context.Context, code string) (domain.Profile, error) {
	if strings.TrimSpace(code) == "" {
		return domain.Profile{}, errors.New("identity: authorization code is required")
	}
	tok, err := p.oauth.Exchange(ctx, code)
	if err != nil {
		return domain.Profile{}, fmt.Errorf("identity: exchange code: %w", err)
	}
	raw, _ := tok.Extra("id_token").(string)
	if raw == "" {
		return domain.Profile{}, ErrNoIDToken
	}
	var claims idTokenClaims
	if _, _, err := jwt.NewParser().ParseUnverified(raw, &claims); err != nil {
		return domain.Profile{}, fmt.Errorf("identity: parse id_token: %w", err)
	}
	if strings.TrimSpace(claims.Name) == "" {
		return domain.Profile{}, ErrNoDisplayName
	}
	oid := claims.OID
	if oid == "" {
		oid = claims.Subject
	}
	return domain.Profile{
		OID:          oid,
		DisplayName:  claims.Name,
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		Expiry:       tok.Expiry,
	}, nil
}

// Logout forgets the user's identity and delegated tokens. The calendar
// subscription is left in place.
func (p *Provider) Logout(u *domain.UserData) {
	if u == nil {
		return
	}
	u.OID = ""
	u.DisplayName = ""
	u.AccessToken = ""
	u.RefreshToken = ""
}
