package identity

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"

	"travel-time-bot/internal/domain"
)

func idToken(t *testing.T, claims jwt.MapClaims) string {
	t.Helper()
	s, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("provider-key"))
	require.NoError(t, err)
	return s
}

func tokenServer(t *testing.T, idTok string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		require.Equal(t, "the-code", r.Form.Get("code"))
		w.Header().Set("Content-Type", "application/json")
		body := map[string]any{
			"access_token":  "graph-at",
			"refresh_token": "graph-rt",
			"token_type":    "Bearer",
			"expires_in":    3600,
		}
		if idTok != "" {
			body["id_token"] = idTok
		}
		_ = json.NewEncoder(w).Encode(body)
	}))
}

func newTestProvider(t *testing.T, srv *httptest.Server) *Provider {
	t.Helper()
	p, err := NewProvider(Config{
		ClientID:     "client",
		ClientSecret: "secret",
		RedirectURL:  "https://bot.example/auth/aadv2/callback",
	}, WithEndpoint(oauth2.Endpoint{AuthURL: srv.URL + "/authorize", TokenURL: srv.URL + "/token"}))
	require.NoError(t, err)
	return p
}

func TestExchange_HappyPath(t *testing.T) {
	srv := tokenServer(t, idToken(t, jwt.MapClaims{"oid": "oid-1", "name": "Ada Lovelace", "sub": "sub-1"}))
	defer srv.Close()
	p := newTestProvider(t, srv)

	profile, err := p.Exchange(context.Background(), "the-code")
	require.NoError(t, err)
	require.Equal(t, "oid-1", profile.OID)
	require.Equal(t, "Ada Lovelace", profile.DisplayName)
	require.Equal(t, "graph-at", profile.AccessToken)
	require.Equal(t, "graph-rt", profile.RefreshToken)
	require.False(t, profile.Expiry.IsZero())
}

func TestExchange_MissingDisplayNameIsHardFailure(t *testing.T) {
	srv := tokenServer(t, idToken(t, jwt.MapClaims{"oid": "oid-1"}))
	defer srv.Close()
	p := newTestProvider(t, srv)

	_, err := p.Exchange(context.Background(), "the-code")
	require.ErrorIs(t, err, ErrNoDisplayName)
}

func TestExchange_MissingIDToken(t *testing.T) {
	srv := tokenServer(t, "")
	defer srv.Close()
	p := newTestProvider(t, srv)

	_, err := p.Exchange(context.Background(), "the-code")
	require.ErrorIs(t, err, ErrNoIDToken)
}

func TestExchange_EmptyCode(t *testing.T) {
	p, err := NewProvider(Config{ClientID: "c", RedirectURL: "https://x/cb"})
	require.NoError(t, err)
	_, err = p.Exchange(context.Background(), "")
	require.Error(t, err)
}

func TestAuthCodeURL_CarriesScopesAndState(t *testing.T) {
	p, err := NewProvider(Config{ClientID: "client", Tenant: "contoso", RedirectURL: "https://bot.example/cb"})
	require.NoError(t, err)

	u, err := url.Parse(p.AuthCodeURL("st-1"))
	require.NoError(t, err)
	require.Equal(t, "login.microsoftonline.com", u.Host)
	require.Contains(t, u.Path, "/contoso/")
	q := u.Query()
	require.Equal(t, "st-1", q.Get("state"))
	require.Equal(t, "code", q.Get("response_type"))
	require.Equal(t, "query", q.Get("response_mode"))
	require.Contains(t, q.Get("scope"), "Calendars.ReadWrite")
	require.Contains(t, q.Get("scope"), "offline_access")
}

func TestNewProvider_Validates(t *testing.T) {
	_, err := NewProvider(Config{RedirectURL: "https://x"})
	require.Error(t, err)
	_, err = NewProvider(Config{ClientID: "c"})
	require.Error(t, err)
}

func TestLogout_ClearsIdentityKeepsSubscription(t *testing.T) {
	p, err := NewProvider(Config{ClientID: "c", RedirectURL: "https://x/cb"})
	require.NoError(t, err)
	u := &domain.UserData{OID: "o", DisplayName: "Ada", AccessToken: "at", RefreshToken: "rt", SubscriptionID: "sub"}
	p.Logout(u)
	require.Equal(t, &domain.UserData{SubscriptionID: "sub"}, u)
	p.Logout(nil)
}
