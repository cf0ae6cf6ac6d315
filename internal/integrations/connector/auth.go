package connector

import (
	"context"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"encoding/pem"
	"errors"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/sync/singleflight"

	"travel-time-bot/internal/domain"
)

const (
	DefaultOpenIDMetadataURL = "https://login.botframework.com/v1/.well-known/openidconfiguration"
	ChannelIssuer            = "https://api.botframework.com"

	keyRefreshInterval = 24 * time.Hour
	minKeyRefetch      = 5 * time.Minute
	allowedClockSkew   = 5 * time.Minute
)

// ErrUnauthenticated is returned for inbound activities without a valid
// channel token.
var ErrUnauthenticated = errors.New("connector: activity is not from an authenticated channel")

type channelClaims struct {
	ServiceURL string `json:"serviceurl"`
	jwt.RegisteredClaims
}

type signingKey struct {
	key          *rsa.PublicKey
	endorsements []string
}

// Verifier authenticates inbound activities against the Bot Framework's
// published signing keys. Keys are fetched through the OpenID metadata
// document and cached for a day.
type Verifier struct {
	appID       string
	metadataURL string
	httpClient  *http.Client
	now         func() time.Time
	onTrusted   func(serviceURL string)

	mu      sync.RWMutex
	keys    map[string]signingKey
	fetched time.Time
	group   singleflight.Group
}

type VerifierOption func(*Verifier)

func WithMetadataURL(u string) VerifierOption {
	return func(v *Verifier) {
		v.metadataURL = strings.TrimSpace(u)
	}
}

func WithVerifierHTTPClient(httpClient *http.Client) VerifierOption {
	return func(v *Verifier) {
		if httpClient != nil {
			v.httpClient = httpClient
		}
	}
}

// OnTrustedServiceURL registers fn to be called with the service url of
// every activity that passes verification.
func OnTrustedServiceURL(fn func(serviceURL string)) VerifierOption {
	return func(v *Verifier) {
		v.onTrusted = fn
	}
}

func NewVerifier(appID string, opts ...VerifierOption) (*Verifier, error) {
	appID = strings.TrimSpace(appID)
	if appID == "" {
		return nil, errors.New("connector: verifier needs the bot's app id")
	}
	v := &Verifier{
		appID:       appID,
		metadataURL: DefaultOpenIDMetadataURL,
		httpClient:  &http.Client{Timeout: 10 * time.Second},
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(v)
	}
	return v, nil
}

// Authenticate checks the Authorization header sent with activity. The token
// must be issued by the channel service for this bot, and its serviceurl claim
// must match the activity's service url.
func (v *Verifier) Authenticate(ctx context.Context, authorization string, activity domain.Activity) error {
	scheme, raw, ok := strings.Cut(strings.TrimSpace(authorization), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") || strings.TrimSpace(raw) == "" {
		return fmt.Errorf("%w: missing bearer token", ErrUnauthenticated)
	}

	var claims channelClaims
	_, err := jwt.ParseWithClaims(strings.TrimSpace(raw), &claims, func(tok *jwt.Token) (any, error) {
		kid, _ := tok.Header["kid"].(string)
		k, err := v.signingKey(ctx, kid)
		if err != nil {
			return nil, err
		}
		if len(k.endorsements) > 0 && !slices.Contains(k.endorsements, activity.ChannelID) {
			return nil, fmt.Errorf("key %q is not endorsed for channel %q", kid, activity.ChannelID)
		}
		return k.key, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodRS256.Alg()}),
		jwt.WithIssuer(ChannelIssuer),
		jwt.WithAudience(v.appID),
		jwt.WithExpirationRequired(),
		jwt.WithLeeway(allowedClockSkew),
		jwt.WithTimeFunc(v.now),
	)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnauthenticated, err)
	}
	if claims.ServiceURL == "" || serviceURLKey(claims.ServiceURL) != serviceURLKey(activity.ServiceURL) {
		return fmt.Errorf("%w: token does not vouch for service url %q", ErrUnauthenticated, activity.ServiceURL)
	}
	if v.onTrusted != nil {
		v.onTrusted(activity.ServiceURL)
	}
	return nil
}

func (v *Verifier) signingKey(ctx context.Context, kid string) (signingKey, error) {
	v.mu.RLock()
	k, ok := v.keys[kid]
	age := v.now().Sub(v.fetched)
	v.mu.RUnlock()
	if ok && age < keyRefreshInterval {
		return k, nil
	}
	// an unknown kid only forces a refetch once the set is a few minutes old
	if !ok && v.keys != nil && age < minKeyRefetch {
		return signingKey{}, fmt.Errorf("unknown signing key %q", kid)
	}

	if _, err, _ := v.group.Do("keys", func() (any, error) {
		return nil, v.refresh(ctx)
	}); err != nil {
		if ok {
			// a stale key beats none while the metadata endpoint is failing
			return k, nil
		}
		return signingKey{}, err
	}
	v.mu.RLock()
	k, ok = v.keys[kid]
	v.mu.RUnlock()
	if !ok {
		return signingKey{}, fmt.Errorf("unknown signing key %q", kid)
	}
	return k, nil
}

type openIDMetadata struct {
	JWKSURI string `json:"jwks_uri"`
}

type jsonWebKey struct {
	Kty          string   `json:"kty"`
	Kid          string   `json:"kid"`
	N            string   `json:"n"`
	E            string   `json:"e"`
	X5C          []string `json:"x5c"`
	Endorsements []string `json:"endorsements"`
}

func (v *Verifier) refresh(ctx context.Context) error {
	var meta openIDMetadata
	if err := v.getJSON(ctx, v.metadataURL, &meta); err != nil {
		return fmt.Errorf("connector: fetch openid metadata: %w", err)
	}
	if meta.JWKSURI == "" {
		return errors.New("connector: openid metadata has no jwks_uri")
	}
	var set struct {
		Keys []jsonWebKey `json:"keys"`
	}
	if err := v.getJSON(ctx, meta.JWKSURI, &set); err != nil {
		return fmt.Errorf("connector: fetch signing keys: %w", err)
	}

	keys := make(map[string]signingKey, len(set.Keys))
	for _, jwk := range set.Keys {
		if jwk.Kty != "RSA" || jwk.Kid == "" {
			continue
		}
		pub, err := jwk.publicKey()
		if err != nil {
			return fmt.Errorf("connector: signing key %q: %w", jwk.Kid, err)
		}
		keys[jwk.Kid] = signingKey{key: pub, endorsements: jwk.Endorsements}
	}
	v.mu.Lock()
	v.keys = keys
	v.fetched = v.now()
	v.mu.Unlock()
	return nil
}

// publicKey prefers the certificate chain and falls back to the modulus and
// exponent.
func (k jsonWebKey) publicKey() (*rsa.PublicKey, error) {
	if len(k.X5C) > 0 {
		der, err := base64.StdEncoding.DecodeString(k.X5C[0])
		if err != nil {
			return nil, fmt.Errorf("decode x5c: %w", err)
		}
		return jwt.ParseRSAPublicKeyFromPEM(pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der}))
	}
	n, err := base64.RawURLEncoding.DecodeString(k.N)
	if err != nil {
		return nil, fmt.Errorf("decode modulus: %w", err)
	}
	e, err := base64.RawURLEncoding.DecodeString(k.E)
	if err != nil {
		return nil, fmt.Errorf("decode exponent: %w", err)
	}
	if len(n) == 0 || len(e) == 0 {
		return nil, errors.New("empty modulus or exponent")
	}
	return &rsa.PublicKey{N: new(big.Int).SetBytes(n), E: int(new(big.Int).SetBytes(e).Int64())}, nil
}

func (v *Verifier) getJSON(ctx context.Context, u string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return err
	}
	res, err := v.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = res.Body.Close() }()
	if res.StatusCode != http.StatusOK {
		buf, _ := io.ReadAll(io.LimitReader(res.Body, 4096))
		return &HTTPStatusError{StatusCode: res.StatusCode, URL: u, Body: string(buf)}
	}
	return json.NewDecoder(io.LimitReader(res.Body, 1<<20)).Decode(out)
}
