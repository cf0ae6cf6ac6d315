package identity

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"travel-time-bot/internal/domain"
)

const defaultStateTTL = 15 * time.Minute

var ErrInvalidState = errors.New("identity: invalid oauth state")

type stateClaims struct {
	Address domain.Address `json:"addr"`
	jwt.RegisteredClaims
}

// StateSigner binds an OAuth round trip to the conversation that started it.
// The state parameter is an HS256 token carrying the reply address.
type StateSigner struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

func NewStateSigner(secret string) (*StateSigner, error) {
	if strings.TrimSpace(secret) == "" {
		return nil, errors.New("identity: state secret must not be empty")
	}
	return &StateSigner{secret: []byte(secret), ttl: defaultStateTTL, now: time.Now}, nil
}

func (s *StateSigner) Sign(addr domain.Address) (string, error) {
	now := s.now()
	claims := stateClaims{
		Address: addr,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("identity: sign state: %w", err)
	}
	return signed, nil
}

func (s *StateSigner) Verify(state string) (domain.Address, error) {
	var claims stateClaims
	_, err := jwt.ParseWithClaims(state, &claims, func(*jwt.Token) (any, error) {
		return s.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithTimeFunc(s.now), jwt.WithExpirationRequired())
	if err != nil {
		return domain.Address{}, fmt.Errorf("%w: %v", ErrInvalidState, err)
	}
	if claims.Address.Conversation.ID == "" {
		return domain.Address{}, fmt.Errorf("%w: missing address", ErrInvalidState)
	}
	return claims.Address, nil
}
