package auth

import (
	"chat-hub/contract"
	"context"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// CustomClaims defines the structure of the data stored inside the JWT.
type CustomClaims struct {
	UserID      string   `json:"user_id"`
	DisplayName string   `json:"display_name"`
	Roles       []string `json:"roles"`
	jwt.RegisteredClaims
}

// JWTVerifier validates HS256 tokens signed with a shared secret.
type JWTVerifier struct {
	key    []byte
	issuer string
}

var _ contract.AuthVerifier = (*JWTVerifier)(nil)

func NewJWTVerifier(secret, issuer string) *JWTVerifier {
	return &JWTVerifier{key: []byte(secret), issuer: issuer}
}

// Validate parses the token and checks its signature, expiration and issuer.
// A rejected token is reported as Valid=false, never as an error.
func (v *JWTVerifier) Validate(_ context.Context, credential string) (contract.Verification, error) {
	options := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
	}
	if v.issuer != "" {
		options = append(options, jwt.WithIssuer(v.issuer))
	}
	token, err := jwt.ParseWithClaims(credential, &CustomClaims{}, func(token *jwt.Token) (interface{}, error) {
		return v.key, nil
	}, options...)
	if err != nil {
		return contract.Verification{Valid: false}, nil
	}

	claims, ok := token.Claims.(*CustomClaims)
	if !ok || !token.Valid {
		return contract.Verification{Valid: false}, nil
	}
	return contract.Verification{
		Valid:       true,
		UserID:      claims.UserID,
		DisplayName: claims.DisplayName,
		Roles:       claims.Roles,
	}, nil
}

// GenerateToken creates a signed JWT for a specific user.
// Token issuance belongs to the account service, this is kept for tests and local tooling.
func (v *JWTVerifier) GenerateToken(userID, displayName string, roles []string,
	duration time.Duration) (string, error) {
	now := time.Now()
	claims := &CustomClaims{
		UserID:      userID,
		DisplayName: displayName,
		Roles:       roles,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(duration)),
			IssuedAt:  jwt.NewNumericDate(now),
			Issuer:    v.issuer,
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(v.key)
}
