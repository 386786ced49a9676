package utils

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/dgrijalva/jwt-go"
)

const (
	OperatorRoleAdmin    = "admin"
	OperatorRoleOperator = "operator"
)

type JwtCustomClaim struct {
	Subject string `json:"sub"`
	Role    string `json:"role"`
	jwt.StandardClaims
}

func getJwtSecret() []byte {
	secret := os.Getenv("API_SECRET")
	if secret == "" {
		return []byte("civicfinance-dev-secret")
	}
	return []byte(secret)
}

// JwtGenerate signs an operator token; lifespan comes from TOKEN_HOUR_LIFESPAN (default 12h).
func JwtGenerate(subject string, role string) (string, error) {
	lifespan, err := strconv.Atoi(StringFromEnv("TOKEN_HOUR_LIFESPAN", "12"))
	if err != nil {
		return "", err
	}

	t := jwt.NewWithClaims(jwt.SigningMethodHS256, &JwtCustomClaim{
		Subject: subject,
		Role:    role,
		StandardClaims: jwt.StandardClaims{
			ExpiresAt: time.Now().Add(time.Hour * time.Duration(lifespan)).Unix(),
			IssuedAt:  time.Now().Unix(),
		},
	})
	return t.SignedString(getJwtSecret())
}

func JwtValidate(token string) (*jwt.Token, error) {
	return jwt.ParseWithClaims(token, &JwtCustomClaim{}, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("there's a problem with the signing method")
		}
		return getJwtSecret(), nil
	})
}

func IsOperatorRole(role string) bool {
	return role == OperatorRoleAdmin || role == OperatorRoleOperator
}
