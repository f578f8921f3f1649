package service

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/lumiscan/lumiscan-api/internal/data"
	apperrors "github.com/lumiscan/lumiscan-api/internal/errors"
)

// TokenSignerOptions groups dependencies for TokenSigner.
type TokenSignerOptions struct {
	Secret       string            // Required: HMAC signing secret
	TTL          time.Duration     // Required: token lifetime
	TimeProvider data.TimeProvider // Optional: injectable clock
}

// TokenClaims is the decoded content of a report access token.
type TokenClaims struct {
	JobID      string
	Identifier string
	ExpiresAt  time.Time
}

// TokenSigner issues and validates HMAC-signed report access tokens.
// Tokens are self-contained: payload plus signature, no server state.
type TokenSigner struct {
	secret       []byte
	ttl          time.Duration
	timeProvider data.TimeProvider
}

// NewTokenSigner constructs a new TokenSigner.
func NewTokenSigner(opts TokenSignerOptions) (*TokenSigner, error) {
	if opts.Secret == "" {
		return nil, fmt.Errorf("token signing secret is required")
	}
	if opts.TTL <= 0 {
		return nil, fmt.Errorf("token ttl must be positive")
	}

	tp := opts.TimeProvider
	if tp == nil {
		tp = &data.RealTimeProvider{}
	}

	return &TokenSigner{
		secret:       []byte(opts.Secret),
		ttl:          opts.TTL,
		timeProvider: tp,
	}, nil
}

// Issue signs a token binding the job id and the verified identifier to an
// expiry instant.
func (s *TokenSigner) Issue(jobID, identifier string) string {
	expiry := s.timeProvider.Now().UTC().Add(s.ttl).Unix()
	payload := fmt.Sprintf("%s|%s|%d", jobID, identifier, expiry)
	encoded := base64.RawURLEncoding.EncodeToString([]byte(payload))
	return encoded + "." + s.sign(encoded)
}

// Validate checks the token signature and expiry and returns its claims.
func (s *TokenSigner) Validate(token string) (*TokenClaims, error) {
	encoded, sig, found := strings.Cut(token, ".")
	if !found {
		return nil, apperrors.Validation("malformed access token")
	}
	if !hmac.Equal([]byte(s.sign(encoded)), []byte(sig)) {
		return nil, apperrors.Validation("access token signature mismatch")
	}

	raw, err := base64.RawURLEncoding.DecodeString(encoded)
	if err != nil {
		return nil, apperrors.Validation("malformed access token payload")
	}
	parts := strings.SplitN(string(raw), "|", 3)
	if len(parts) != 3 {
		return nil, apperrors.Validation("malformed access token payload")
	}
	expiryUnix, err := strconv.ParseInt(parts[2], 10, 64)
	if err != nil {
		return nil, apperrors.Validation("malformed access token expiry")
	}

	claims := &TokenClaims{
		JobID:      parts[0],
		Identifier: parts[1],
		ExpiresAt:  time.Unix(expiryUnix, 0).UTC(),
	}
	if !s.timeProvider.Now().UTC().Before(claims.ExpiresAt) {
		return nil, apperrors.Expired("access token expired")
	}
	return claims, nil
}

func (s *TokenSigner) sign(encoded string) string {
	mac := hmac.New(sha256.New, s.secret)
	mac.Write([]byte(encoded))
	return base64.RawURLEncoding.EncodeToString(mac.Sum(nil))
}
