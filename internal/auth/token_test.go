package auth

import (
	"errors"
	"testing"
	"time"

	"github.com/brightpath/backend/internal/models"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

var secret = []byte("unit-test-secret")

func TestTokenRoundTrip(t *testing.T) {
	id := models.Identity{UserID: uuid.New(), Role: models.RoleMentor}
	tok, err := GenerateToken(secret, id, time.Hour)
	if err != nil {
		t.Fatalf("GenerateToken: %v", err)
	}

	got, err := ParseToken(secret, tok)
	if err != nil {
		t.Fatalf("ParseToken: %v", err)
	}
	if got != id {
		t.Errorf("ParseToken = %+v, want %+v", got, id)
	}
}

func TestParseTokenRejects(t *testing.T) {
	valid := models.Identity{UserID: uuid.New(), Role: models.RoleStudent}

	sign := func(method jwt.SigningMethod, key interface{}, claims Claims) string {
		t.Helper()
		tok, err := jwt.NewWithClaims(method, claims).SignedString(key)
		if err != nil {
			t.Fatal(err)
		}
		return tok
	}
	future := jwt.NewNumericDate(time.Now().Add(time.Hour))

	expired, _ := GenerateToken(secret, valid, -time.Minute)
	otherKey, _ := GenerateToken([]byte("someone-else"), valid, time.Hour)

	tests := []struct {
		name  string
		token string
	}{
		{"garbage", "not.a.token"},
		{"expired", expired},
		{"wrong key", otherKey},
		{"hs512", sign(jwt.SigningMethodHS512, secret, Claims{
			UserID: valid.UserID.String(), Role: valid.Role,
			RegisteredClaims: jwt.RegisteredClaims{ExpiresAt: future},
		})},
		{"bad user id", sign(jwt.SigningMethodHS256, secret, Claims{
			UserID: "42", Role: valid.Role,
			RegisteredClaims: jwt.RegisteredClaims{ExpiresAt: future},
		})},
		{"unknown role", sign(jwt.SigningMethodHS256, secret, Claims{
			UserID: valid.UserID.String(), Role: "root",
			RegisteredClaims: jwt.RegisteredClaims{ExpiresAt: future},
		})},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseToken(secret, tt.token)
			if !errors.Is(err, ErrInvalidToken) {
				t.Errorf("ParseToken error = %v, want ErrInvalidToken", err)
			}
		})
	}
}
