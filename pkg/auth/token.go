package auth

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/quickbuyer/quickbuyer-backend/pkg/config"
)

var jwtSigningMethod = jwt.SigningMethodHS256

// Identity is what a caller's token proves about them.
type Identity struct {
	UserID    uuid.UUID
	Email     string
	Name      string
	AvatarURL string
}

// MintAccessToken signs claims the same way the auth provider does. It backs local
// tooling and tests; production tokens come from the provider.
func MintAccessToken(cfg config.AuthConfig, now time.Time, ttl time.Duration, identity Identity) (string, error) {
	if cfg.JWTSecret == "" {
		return "", fmt.Errorf("jwt secret is required")
	}
	if identity.UserID == uuid.Nil {
		return "", fmt.Errorf("user id is required")
	}
	if ttl <= 0 {
		ttl = time.Hour
	}

	claims := AccessTokenClaims{
		Email: identity.Email,
		Role:  "authenticated",
		UserMetadata: UserMetadata{
			FullName:  identity.Name,
			AvatarURL: identity.AvatarURL,
		},
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   identity.UserID.String(),
			Issuer:    cfg.Issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			ID:        uuid.NewString(),
		},
	}
	if cfg.Audience != "" {
		claims.Audience = jwt.ClaimStrings{cfg.Audience}
	}

	signed, err := jwt.NewWithClaims(jwtSigningMethod, claims).SignedString([]byte(cfg.JWTSecret))
	if err != nil {
		return "", fmt.Errorf("signing jwt: %w", err)
	}
	return signed, nil
}

// ParseAccessToken validates the signature, expiry, issuer and audience of tokenString.
func ParseAccessToken(cfg config.AuthConfig, tokenString string) (*AccessTokenClaims, error) {
	if cfg.JWTSecret == "" {
		return nil, fmt.Errorf("jwt secret is required")
	}

	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwtSigningMethod.Alg()}),
		jwt.WithExpirationRequired(),
	}
	if cfg.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(cfg.Issuer))
	}
	if cfg.Audience != "" {
		opts = append(opts, jwt.WithAudience(cfg.Audience))
	}

	claims := &AccessTokenClaims{}
	_, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		if token.Method != jwtSigningMethod {
			return nil, fmt.Errorf("unexpected signing method %s", token.Header["alg"])
		}
		return []byte(cfg.JWTSecret), nil
	}, opts...)
	if err != nil {
		return nil, err
	}
	return claims, nil
}

// IdentityFromClaims converts validated claims into an Identity.
func IdentityFromClaims(claims *AccessTokenClaims) (Identity, error) {
	userID, err := claims.UserID()
	if err != nil {
		return Identity{}, err
	}
	return Identity{
		UserID:    userID,
		Email:     claims.Email,
		Name:      claims.DisplayName(),
		AvatarURL: claims.UserMetadata.AvatarURL,
	}, nil
}
