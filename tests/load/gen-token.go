//go:build ignore

// gen-token prints a signed JWT accepted by a gateway configured with the
// matching secret, issuer, and audience. Intended for load testing:
//
//	TOKEN=$(go run gen-token.go)
//	curl -H "Authorization: Bearer $TOKEN" -d '{"prompt":"hi"}' localhost:8080/v1/generate
package main

import (
	"fmt"
	"os"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func main() {
	secret := os.Getenv("JWT_SECRET")
	if secret == "" {
		secret = "loadtest-secret-key-32-chars-min!"
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub":   "loadtest-client",
		"iss":   "https://auth.example.com",
		"aud":   "inference-gateway",
		"exp":   time.Now().Add(2 * time.Hour).Unix(),
		"scope": "inference:generate",
	})
	s, err := token.SignedString([]byte(secret))
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	fmt.Print(s)
}
