package utils

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/dgrijalva/jwt-go"
)

var ErrJwtDisabled = errors.New("API_SECRET not set; bearer tokens are not accepted")

// JwtCustomClaim is the identity claim minted by the login service. Only the username is read here.
type JwtCustomClaim struct {
	Username string `json:"username"`
	Role     string `json:"role"`
	jwt.StandardClaims
}

func jwtSecret() []byte {
	return []byte(strings.TrimSpace(os.Getenv("API_SECRET")))
}

// JwtValidate checks an HS256 bearer token against API_SECRET and returns its claims.
func JwtValidate(token string) (*JwtCustomClaim, error) {
	secret := jwtSecret()
	if len(secret) == 0 {
		return nil, ErrJwtDisabled
	}
	parsed, err := jwt.ParseWithClaims(token, &JwtCustomClaim{}, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return secret, nil
	})
	if err != nil {
		return nil, err
	}
	claims, ok := parsed.Claims.(*JwtCustomClaim)
	if !ok || !parsed.Valid {
		return nil, errors.New("invalid token")
	}
	if claims.Username == "" {
		claims.Username = claims.Subject
	}
	if claims.Username == "" {
		return nil, errors.New("token carries no username")
	}
	return claims, nil
}
