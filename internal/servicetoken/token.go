package servicetoken

import (
	"errors"
	"net/http"
	"strings"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"
)

const (
	// Header carries the service token on machine-to-machine calls.
	Header = "X-Service-Token"

	// DefaultTokenTTL is the default lifetime for internal service tokens.
	DefaultTokenTTL = 5 * time.Minute
	// DefaultLeeway is clock skew tolerance for token validation.
	DefaultLeeway = 15 * time.Second
)

// Signer issues short-lived HS256 tokens for internal callers such as the
// content-generation automation.
type Signer struct {
	secret []byte
	issuer string
	ttl    time.Duration
}

// NewSigner creates a signer from a shared secret.
func NewSigner(secret, issuer string, ttl time.Duration) (*Signer, error) {
	secret = strings.TrimSpace(secret)
	if secret == "" {
		return nil, errors.New("service token secret is required")
	}
	issuer = strings.TrimSpace(issuer)
	if issuer == "" {
		return nil, errors.New("service token issuer is required")
	}
	if ttl <= 0 {
		ttl = DefaultTokenTTL
	}
	return &Signer{secret: []byte(secret), issuer: issuer, ttl: ttl}, nil
}

// Sign issues a token for the given audience.
func (s *Signer) Sign(audience string) (string, error) {
	audience = strings.TrimSpace(audience)
	if audience == "" {
		return "", errors.New("service token audience is required")
	}
	now := time.Now().UTC()
	claims := jwt.RegisteredClaims{
		Issuer:    s.issuer,
		Subject:   s.issuer,
		Audience:  jwt.ClaimStrings{audience},
		IssuedAt:  jwt.NewNumericDate(now),
		NotBefore: jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
}

// Verifier validates internal service tokens against audience and an issuer
// allowlist.
type Verifier struct {
	secret         []byte
	audience       string
	allowedIssuers map[string]struct{}
	leeway         time.Duration
}

// NewVerifier creates a verifier for the given audience.
func NewVerifier(secret, audience string, allowedIssuers []string, leeway time.Duration) (*Verifier, error) {
	secret = strings.TrimSpace(secret)
	if secret == "" {
		return nil, errors.New("service token secret is required")
	}
	audience = strings.TrimSpace(audience)
	if audience == "" {
		return nil, errors.New("service token audience is required")
	}
	issuers := make(map[string]struct{})
	for _, issuer := range allowedIssuers {
		issuer = strings.TrimSpace(issuer)
		if issuer == "" {
			continue
		}
		issuers[issuer] = struct{}{}
	}
	if len(issuers) == 0 {
		return nil, errors.New("at least one allowed issuer is required")
	}
	if leeway <= 0 {
		leeway = DefaultLeeway
	}
	return &Verifier{
		secret:         []byte(secret),
		audience:       audience,
		allowedIssuers: issuers,
		leeway:         leeway,
	}, nil
}

// Verify validates a token and returns its issuer.
func (v *Verifier) Verify(token string) (string, error) {
	claims := jwt.RegisteredClaims{}
	parsed, err := jwt.ParseWithClaims(token, &claims, func(t *jwt.Token) (any, error) {
		return v.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithAudience(v.audience),
		jwt.WithIssuedAt(),
		jwt.WithLeeway(v.leeway),
	)
	if err != nil || !parsed.Valid {
		if err == nil {
			err = errors.New("invalid service token")
		}
		return "", err
	}
	if _, ok := v.allowedIssuers[claims.Issuer]; !ok {
		return "", errors.New("service token issuer not allowed")
	}
	return claims.Issuer, nil
}

// VerifyRequest extracts and validates the token from the request header.
func (v *Verifier) VerifyRequest(r *http.Request) (string, error) {
	token := strings.TrimSpace(r.Header.Get(Header))
	if token == "" {
		return "", errors.New("missing service token")
	}
	return v.Verify(token)
}
