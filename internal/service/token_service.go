package service

import (
	"encoding/base64"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"

	"github.com/univ-soa/campus-auth-api/internal/models"
	"github.com/univ-soa/campus-auth-api/pkg/config"
)

// TokenService signs and verifies the stateless session tokens exchanged
// between clients, the gateway and the auth service. Verification is a pure
// function of (token, key, clock); no server-side session state exists.
type TokenService struct {
	key      []byte
	validity time.Duration
	logger   *zap.Logger
	now      func() time.Time
}

// NewTokenService constructs a TokenService from the configured base64
// signing secret.
func NewTokenService(cfg config.JWTConfig, logger *zap.Logger) (*TokenService, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	key, err := base64.StdEncoding.DecodeString(cfg.Secret)
	if err != nil {
		return nil, fmt.Errorf("decode jwt secret: %w", err)
	}
	if len(key) == 0 {
		return nil, errors.New("jwt secret is empty")
	}
	validity := cfg.Validity
	if validity <= 0 {
		validity = 24 * time.Hour
	}
	return &TokenService{
		key:      key,
		validity: validity,
		logger:   logger,
		now:      time.Now,
	}, nil
}

// Issue produces a signed session token for the given account. The subject
// carries the username; role, userId and email travel as custom claims.
func (s *TokenService) Issue(user *models.User) (string, error) {
	issuedAt := s.now().UTC()
	claims := &models.JWTClaims{
		UserID: user.ID,
		Role:   user.Role,
		Email:  user.Email,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   user.Username,
			IssuedAt:  jwt.NewNumericDate(issuedAt),
			ExpiresAt: jwt.NewNumericDate(issuedAt.Add(s.validity)),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(s.key)
	if err != nil {
		return "", fmt.Errorf("sign session token: %w", err)
	}
	return signed, nil
}

// Validate reports whether the token carries a verifiable signature and a
// well-formed, unexpired payload. Parse and signature failures never
// propagate; the failure kind is only logged for diagnostics.
func (s *TokenService) Validate(tokenString string) bool {
	if tokenString == "" {
		s.logger.Debug("session token rejected", zap.String("reason", "empty"))
		return false
	}
	if _, err := s.parse(tokenString, true); err != nil {
		s.logger.Debug("session token rejected", zap.String("reason", classify(err)), zap.Error(err))
		return false
	}
	return true
}

// IsExpired reports whether the token's expiry claim lies in the past.
// Tokens that fail signature verification or carry no expiry count as
// expired. Callers should Validate first.
func (s *TokenService) IsExpired(tokenString string) bool {
	claims, err := s.parse(tokenString, false)
	if err != nil {
		return true
	}
	if claims.ExpiresAt == nil {
		return true
	}
	return s.now().After(claims.ExpiresAt.Time)
}

// Claims extracts the identity claims from a previously validated token.
// Extraction fails closed: a malformed or wrongly signed token yields an
// error, never blank claims.
func (s *TokenService) Claims(tokenString string) (*models.JWTClaims, error) {
	claims, err := s.parse(tokenString, false)
	if err != nil {
		return nil, fmt.Errorf("extract session claims: %w", err)
	}
	return claims, nil
}

// ValidityMillis returns the configured token lifetime in milliseconds.
func (s *TokenService) ValidityMillis() int64 {
	return s.validity.Milliseconds()
}

func (s *TokenService) parse(tokenString string, checkExpiry bool) (*models.JWTClaims, error) {
	claims := &models.JWTClaims{}
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(func() time.Time { return s.now() }),
	}
	if !checkExpiry {
		opts = append(opts, jwt.WithoutClaimsValidation())
	}

	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
		return s.key, nil
	}, opts...)
	if err != nil {
		return nil, err
	}
	if !token.Valid {
		return nil, jwt.ErrTokenUnverifiable
	}
	return claims, nil
}

func classify(err error) string {
	switch {
	case errors.Is(err, jwt.ErrTokenMalformed):
		return "malformed"
	case errors.Is(err, jwt.ErrTokenSignatureInvalid):
		return "signature"
	case errors.Is(err, jwt.ErrTokenExpired):
		return "expired"
	case errors.Is(err, jwt.ErrTokenUnverifiable):
		return "unsupported"
	default:
		return "invalid"
	}
}
