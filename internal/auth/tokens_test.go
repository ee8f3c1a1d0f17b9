package auth

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const testSecret = "test-secret-key-for-jwt-signing-32b"

func TestTokens_IssueAndParse(t *testing.T) {
	tokens, err := NewTokens(testSecret, 15*time.Minute)
	if err != nil {
		t.Fatalf("NewTokens() error = %v", err)
	}

	token, expires, err := tokens.Issue("admin")
	if err != nil {
		t.Fatalf("Issue() error = %v", err)
	}
	if token == "" {
		t.Fatal("Issue() returned empty token")
	}
	if d := time.Until(expires); d < 14*time.Minute || d > 15*time.Minute {
		t.Errorf("expiry in %v, want ~15m", d)
	}

	claims, err := tokens.Parse(token)
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	if claims.Subject != "admin" {
		t.Errorf("Subject = %q, want admin", claims.Subject)
	}
	if claims.ID == "" {
		t.Error("JTI (ID) should not be empty")
	}
	if claims.Issuer != "maxcube" {
		t.Errorf("Issuer = %q, want maxcube", claims.Issuer)
	}
}

func TestNewTokens_Defaults(t *testing.T) {
	if _, err := NewTokens("", time.Minute); !errors.Is(err, ErrSecretRequired) {
		t.Errorf("NewTokens(\"\") error = %v, want ErrSecretRequired", err)
	}
	tokens, err := NewTokens(testSecret, 0)
	if err != nil {
		t.Fatalf("NewTokens() error = %v", err)
	}
	if tokens.ttl != DefaultTokenTTL {
		t.Errorf("ttl = %v, want %v", tokens.ttl, DefaultTokenTTL)
	}
}

func TestTokens_ParseRejects(t *testing.T) {
	tokens, err := NewTokens(testSecret, time.Minute)
	if err != nil {
		t.Fatalf("NewTokens() error = %v", err)
	}
	valid, _, err := tokens.Issue("admin")
	if err != nil {
		t.Fatalf("Issue() error = %v", err)
	}

	dot := strings.LastIndex(valid, ".")
	flip := "A"
	if valid[dot+1] == 'A' {
		flip = "B"
	}
	tampered := valid[:dot+1] + flip + valid[dot+2:]

	other, _ := NewTokens("another-secret-key-for-jwt-signing", time.Minute)
	forged, _, _ := other.Issue("admin")

	expired, _ := NewTokens(testSecret, time.Minute)
	expired.now = func() time.Time { return time.Now().Add(-time.Hour) }
	old, _, _ := expired.Issue("admin")

	none := jwt.NewWithClaims(jwt.SigningMethodNone, jwt.RegisteredClaims{
		Issuer:    "maxcube",
		Subject:   "admin",
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	})
	unsigned, _ := none.SignedString(jwt.UnsafeAllowNoneSignatureType)

	tests := []struct {
		name  string
		token string
	}{
		{"empty", ""},
		{"garbage", "not-a-valid-jwt"},
		{"two segments", "abc.def"},
		{"tampered signature", tampered},
		{"wrong secret", forged},
		{"expired", old},
		{"alg none", unsigned},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := tokens.Parse(tt.token); !errors.Is(err, ErrTokenInvalid) {
				t.Errorf("Parse() error = %v, want ErrTokenInvalid", err)
			}
		})
	}
}
