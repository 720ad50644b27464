package security

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/99minutos/identity-service/internal/core/domain"
)

// MinSecretBytes is the shortest accepted HMAC signing key.
const MinSecretBytes = 32

const signingAlg = "HS256"

var ErrWeakSecret = errors.New("jwt secret must be at least 32 bytes")

// TokenConfig is read once at startup.
type TokenConfig struct {
	Secret   string
	Issuer   string
	Audience string
	TTL      time.Duration
	// Now overrides the clock, mainly for tests.
	Now func() time.Time
}

type accessClaims struct {
	Username string `json:"username"`
	Email    string `json:"email"`
	Role     string `json:"role"`
	jwt.RegisteredClaims
}

// TokenIssuer signs and validates HS256 access tokens with a process-wide
// key. The key is never taken from the token.
type TokenIssuer struct {
	key      []byte
	issuer   string
	audience string
	ttl      time.Duration
	now      func() time.Time
	parser   *jwt.Parser
}

func NewTokenIssuer(cfg TokenConfig) (*TokenIssuer, error) {
	if len(cfg.Secret) < MinSecretBytes {
		return nil, ErrWeakSecret
	}
	if cfg.Issuer == "" || cfg.Audience == "" {
		return nil, errors.New("jwt issuer and audience are required")
	}
	if cfg.TTL <= 0 {
		cfg.TTL = time.Hour
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	ti := &TokenIssuer{
		key:      []byte(cfg.Secret),
		issuer:   cfg.Issuer,
		audience: cfg.Audience,
		ttl:      cfg.TTL,
		now:      cfg.Now,
	}
	ti.parser = jwt.NewParser(
		jwt.WithValidMethods([]string{signingAlg}),
		jwt.WithIssuer(cfg.Issuer),
		jwt.WithAudience(cfg.Audience),
		jwt.WithExpirationRequired(),
		jwt.WithIssuedAt(),
		jwt.WithTimeFunc(func() time.Time { return ti.now() }),
	)
	return ti, nil
}

// TTL returns the access token lifetime.
func (t *TokenIssuer) TTL() time.Duration { return t.ttl }

// Issue signs a token for identity expiring TTL from now.
func (t *TokenIssuer) Issue(identity domain.Identity) (domain.AccessToken, error) {
	if identity.AccountID == "" {
		return domain.AccessToken{}, errors.New("issue token: empty subject")
	}
	now := t.now().UTC().Truncate(time.Second)
	exp := now.Add(t.ttl)

	claims := accessClaims{
		Username: identity.Username,
		Email:    identity.Email,
		Role:     identity.Role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   identity.AccountID,
			Issuer:    t.issuer,
			Audience:  jwt.ClaimStrings{t.audience},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
			ID:        uuid.NewString(),
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(t.key)
	if err != nil {
		return domain.AccessToken{}, fmt.Errorf("sign token: %w", err)
	}
	return domain.AccessToken{Value: signed, ExpiresAt: exp}, nil
}

// Validate checks signature, algorithm, issuer, audience and expiry. Any
// failure yields domain.ErrUnauthorized.
func (t *TokenIssuer) Validate(raw string) (VerifiedIdentity, error) {
	if raw == "" {
		return VerifiedIdentity{}, domain.ErrUnauthorized
	}

	claims := &accessClaims{}
	tok, err := t.parser.ParseWithClaims(raw, claims, func(*jwt.Token) (any, error) {
		return t.key, nil
	})
	if err != nil || !tok.Valid {
		return VerifiedIdentity{}, domain.ErrUnauthorized
	}

	id, err := uuid.Parse(claims.Subject)
	if err != nil || claims.ExpiresAt == nil {
		return VerifiedIdentity{}, domain.ErrUnauthorized
	}

	return VerifiedIdentity{
		accountID: id,
		username:  claims.Username,
		email:     claims.Email,
		role:      claims.Role,
		tokenID:   claims.ID,
		expiresAt: claims.ExpiresAt.Time,
	}, nil
}

// VerifiedIdentity holds claims of a token that passed Validate. It has no
// exported fields and no other constructor.
type VerifiedIdentity struct {
	accountID uuid.UUID
	username  string
	email     string
	role      string
	tokenID   string
	expiresAt time.Time
}

func (v VerifiedIdentity) AccountID() uuid.UUID  { return v.accountID }
func (v VerifiedIdentity) Username() string      { return v.username }
func (v VerifiedIdentity) Email() string         { return v.email }
func (v VerifiedIdentity) Role() string          { return v.role }
func (v VerifiedIdentity) TokenID() string       { return v.tokenID }
func (v VerifiedIdentity) ExpiresAt() time.Time  { return v.expiresAt }
func (v VerifiedIdentity) IsZero() bool          { return v.accountID == uuid.Nil }
func (v VerifiedIdentity) HasRole(r string) bool { return v.role == r }
