package handlers

import (
	"strconv"
	"testing"
	"time"

	"github.com/civicdesk/apiserver/types"
	"github.com/golang-jwt/jwt/v5"
)

func signedToken(t *testing.T, secret []byte, claims accessClaims) string {
	t.Helper()
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return token
}

func TestParseTokenActor(t *testing.T) {
	secret := []byte("test-secret")
	now := time.Now()

	token := signedToken(t, secret, accessClaims{
		Role:      "citizen",
		CitizenID: 7,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   strconv.Itoa(42),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(time.Hour)),
		},
	})

	actor, err := parseTokenActor(token, secret)
	if err != nil {
		t.Fatalf("parse token: %v", err)
	}
	if actor.UserID != 42 || actor.Role != types.RoleCitizen || actor.CitizenID != 7 {
		t.Fatalf("actor = %+v", actor)
	}
}

func TestParseTokenActorRejections(t *testing.T) {
	secret := []byte("test-secret")
	now := time.Now()

	valid := func() accessClaims {
		return accessClaims{
			Role: "official",
			RegisteredClaims: jwt.RegisteredClaims{
				Subject:   "42",
				IssuedAt:  jwt.NewNumericDate(now),
				ExpiresAt: jwt.NewNumericDate(now.Add(time.Hour)),
			},
		}
	}

	expired := valid()
	expired.ExpiresAt = jwt.NewNumericDate(now.Add(-time.Hour))
	if _, err := parseTokenActor(signedToken(t, secret, expired), secret); err == nil {
		t.Fatal("expected expired token to be rejected")
	}

	badRole := valid()
	badRole.Role = "admin"
	if _, err := parseTokenActor(signedToken(t, secret, badRole), secret); err == nil {
		t.Fatal("expected unknown role to be rejected")
	}

	badSubject := valid()
	badSubject.Subject = "zero"
	if _, err := parseTokenActor(signedToken(t, secret, badSubject), secret); err == nil {
		t.Fatal("expected bad subject to be rejected")
	}

	if _, err := parseTokenActor(signedToken(t, []byte("other-secret"), valid()), secret); err == nil {
		t.Fatal("expected wrong-key signature to be rejected")
	}
}

func TestValidateRegistration(t *testing.T) {
	valid := RegisterRequest{
		Name:     "Asha Rao",
		Email:    "asha@example.com",
		Phone:    "9876543210",
		Address:  "12 Lake View Road, Ward 4",
		Password: "Secret1pass",
	}
	if msg, ok := validateRegistration(valid); !ok {
		t.Fatalf("expected valid registration, got %q", msg)
	}

	cases := []struct {
		name   string
		mutate func(*RegisterRequest)
	}{
		{"short name", func(r *RegisterRequest) { r.Name = "A" }},
		{"bad email", func(r *RegisterRequest) { r.Email = "not-an-email" }},
		{"short phone", func(r *RegisterRequest) { r.Phone = "12345" }},
		{"alpha phone", func(r *RegisterRequest) { r.Phone = "98765abcde" }},
		{"short address", func(r *RegisterRequest) { r.Address = "nowhere" }},
		{"weak password", func(r *RegisterRequest) { r.Password = "secret" }},
		{"no digit password", func(r *RegisterRequest) { r.Password = "SecretPass" }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := valid
			tc.mutate(&req)
			if _, ok := validateRegistration(req); ok {
				t.Fatal("expected rejection")
			}
		})
	}
}
