// Package jwttoken issues and verifies the bearer tokens owners authenticate
// with. Tokens are symmetric HS256; the owner id travels in a custom claim
// and is only ever trusted after signature verification.
package jwttoken

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	id "datavault/pkg/domain"
	dErrors "datavault/pkg/domain-errors"
)

// AccessTokenClaims are the claims carried by DataVault access tokens.
type AccessTokenClaims struct {
	OwnerID string `json:"owner_id"`
	jwt.RegisteredClaims
}

// Service handles JWT creation and validation.
type Service struct {
	signingKey []byte
	issuer     string
	tokenTTL   time.Duration
}

// NewService creates a token service.
func NewService(signingKey, issuer string, tokenTTL time.Duration) *Service {
	return &Service{
		signingKey: []byte(signingKey),
		issuer:     issuer,
		tokenTTL:   tokenTTL,
	}
}

// GenerateAccessToken issues a signed token for the owner.
func (s *Service) GenerateAccessToken(ownerID id.OwnerID) (string, error) {
	if ownerID.IsNil() {
		return "", dErrors.New(dErrors.CodeInvalidInput, "owner ID is required")
	}

	now := time.Now()
	claims := AccessTokenClaims{
		OwnerID: ownerID.String(),
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Issuer:    s.issuer,
			Subject:   ownerID.String(),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.tokenTTL)),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(s.signingKey)
	if err != nil {
		return "", dErrors.Wrap(err, dErrors.CodeInternal, "failed to sign access token")
	}
	return signed, nil
}

// VerifyToken validates signature, issuer and expiry and returns the owner id
// the token was issued for. Every failure collapses to one unauthorized
// error; callers learn nothing about why a token was rejected.
func (s *Service) VerifyToken(tokenString string) (id.OwnerID, error) {
	parsed, err := jwt.ParseWithClaims(tokenString, &AccessTokenClaims{},
		func(token *jwt.Token) (any, error) {
			if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, errors.New("unexpected signing method")
			}
			return s.signingKey, nil
		},
		jwt.WithIssuer(s.issuer),
		jwt.WithExpirationRequired(),
	)
	if err != nil || !parsed.Valid {
		return id.OwnerID{}, dErrors.New(dErrors.CodeUnauthorized, "invalid or expired token")
	}

	claims, ok := parsed.Claims.(*AccessTokenClaims)
	if !ok {
		return id.OwnerID{}, dErrors.New(dErrors.CodeUnauthorized, "invalid or expired token")
	}
	ownerID, err := id.ParseOwnerID(claims.OwnerID)
	if err != nil || ownerID.IsNil() {
		return id.OwnerID{}, dErrors.New(dErrors.CodeUnauthorized, "invalid or expired token")
	}
	return ownerID, nil
}
