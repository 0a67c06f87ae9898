package user

import (
	"time"

	"github.com/golang-jwt/jwt/v5"

	appErrors "go-dm/pkg/errors"
)

// Service validates session tokens issued by the external auth provider.
// IssueToken exists for local tooling (loadtest, tests) that shares the
// secret.
type Service struct {
	jwtSecret string
}

type MyJWTClaims struct {
	ID       string `json:"id"`
	Username string `json:"username"`
	jwt.RegisteredClaims
}

func NewService(secret string) *Service {
	return &Service{jwtSecret: secret}
}

func (s *Service) IssueToken(userID, username string, ttl time.Duration) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, MyJWTClaims{
		ID:       userID,
		Username: username,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    "go-dm",
			Subject:   userID,
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(ttl)),
		},
	})
	return token.SignedString([]byte(s.jwtSecret))
}

func (s *Service) ValidateToken(tokenString string) (string, string, error) {
	claims := &MyJWTClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		return []byte(s.jwtSecret), nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))

	if err != nil || !token.Valid || claims.ID == "" {
		return "", "", appErrors.ErrInvalidToken
	}

	return claims.ID, claims.Username, nil
}
