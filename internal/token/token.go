// Package token issues and validates the signed API tokens handed out by
// POST /v1/auth/token. Session cookies remain the primary credential; API
// tokens exist for non-browser clients that cannot hold a cookie jar.
package token

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const defaultTTL = time.Hour

var (
	ErrInvalidToken = errors.New("token: invalid")
	ErrExpiredToken = errors.New("token: expired")
)

// Claims is the payload carried by an API token. The subject is the user's
// public UUID; the numeric id and role ride along so the web layer can
// authorize without a directory lookup.
type Claims struct {
	UserID   int64  `json:"uid"`
	Username string `json:"username,omitempty"`
	Role     string `json:"role,omitempty"`
	jwt.RegisteredClaims
}

// Service signs and verifies tokens with a shared HS256 secret.
type Service struct {
	secret []byte
	issuer string
	ttl    time.Duration
	now    func() time.Time
}

// Option configures Service behavior.
type Option func(*Service)

func WithIssuer(issuer string) Option {
	return func(s *Service) {
		if issuer != "" {
			s.issuer = issuer
		}
	}
}

func WithTTL(ttl time.Duration) Option {
	return func(s *Service) {
		if ttl > 0 {
			s.ttl = ttl
		}
	}
}

func WithClock(fn func() time.Time) Option {
	return func(s *Service) {
		if fn != nil {
			s.now = fn
		}
	}
}

// NewService constructs a token service over the given secret.
func NewService(secret []byte, opts ...Option) (*Service, error) {
	if len(secret) < 32 {
		return nil, errors.New("token: secret must be at least 32 bytes")
	}
	s := &Service{
		secret: secret,
		issuer: "goldilocks",
		ttl:    defaultTTL,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Generate signs a token for the user. ttl <= 0 uses the service default.
func (s *Service) Generate(userID int64, uuid, username, role string, ttl time.Duration) (string, time.Time, error) {
	if uuid == "" {
		return "", time.Time{}, errors.New("token: missing subject")
	}
	if ttl <= 0 {
		ttl = s.ttl
	}
	now := s.now().UTC()
	expiresAt := now.Add(ttl)
	claims := &Claims{
		UserID:   userID,
		Username: username,
		Role:     role,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    s.issuer,
			Subject:   uuid,
			ID:        strconv.FormatInt(now.UnixNano(), 10),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("token: sign: %w", err)
	}
	return signed, expiresAt, nil
}

// ParseAndValidate verifies the signature, issuer and lifetime of a token.
func (s *Service) ParseAndValidate(raw string) (*Claims, error) {
	if raw == "" {
		return nil, ErrInvalidToken
	}
	claims := &Claims{}
	parsed, err := jwt.ParseWithClaims(raw, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("token: unexpected signing method %q", t.Method.Alg())
		}
		return s.secret, nil
	},
		jwt.WithIssuer(s.issuer),
		jwt.WithTimeFunc(func() time.Time { return s.now().UTC() }),
		jwt.WithLeeway(30*time.Second),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrExpiredToken
		}
		return nil, ErrInvalidToken
	}
	if !parsed.Valid {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

var (
	secretOnce   sync.Once
	cachedSecret []byte
)

// SecretFromEnv reads GOLDILOCKS_AUTH_SECRET once and caches it for the
// process lifetime.
func SecretFromEnv() ([]byte, error) {
	secretOnce.Do(func() {
		cachedSecret = []byte(os.Getenv("GOLDILOCKS_AUTH_SECRET"))
	})
	if len(cachedSecret) == 0 {
		return nil, errors.New("token: GOLDILOCKS_AUTH_SECRET is not set")
	}
	return cachedSecret, nil
}

// ResetSecretForTests clears the cached secret so tests can swap it.
func ResetSecretForTests() {
	secretOnce = sync.Once{}
	cachedSecret = nil
}
