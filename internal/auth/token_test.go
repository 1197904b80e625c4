package auth

import (
	"errors"
	"testing"
	"time"

	"github.com/dvloznov/securepath/internal/config"
	"github.com/golang-jwt/jwt/v5"
)

func newTestTokens(t *testing.T, secret string, now time.Time) *Tokens {
	t.Helper()
	tok, err := NewTokens(config.AuthConfig{Secret: secret, Issuer: "securepath", AccessTTL: time.Hour})
	if err != nil {
		t.Fatal(err)
	}
	tok.now = func() time.Time { return now }
	return tok
}

func TestTokens_IssueVerify(t *testing.T) {
	now := time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)
	tok := newTestTokens(t, "s3cret", now)

	raw, exp, err := tok.Issue("42")
	if err != nil {
		t.Fatalf("Issue() error = %v", err)
	}
	if !exp.Equal(now.Add(time.Hour)) {
		t.Errorf("exp = %v", exp)
	}

	other := newTestTokens(t, "other", now)
	later := newTestTokens(t, "s3cret", now.Add(2*time.Hour))

	none := jwt.NewWithClaims(jwt.SigningMethodNone, Claims{RegisteredClaims: jwt.RegisteredClaims{
		Subject: "42", Issuer: "securepath", ExpiresAt: jwt.NewNumericDate(now.Add(time.Hour)),
	}})
	unsigned, _ := none.SignedString(jwt.UnsafeAllowNoneSignatureType)

	noSub, _ := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{RegisteredClaims: jwt.RegisteredClaims{
		Issuer: "securepath", ExpiresAt: jwt.NewNumericDate(now.Add(time.Hour)),
	}}).SignedString([]byte("s3cret"))

	tests := []struct {
		name    string
		tokens  *Tokens
		raw     string
		want    string
		wantErr bool
	}{
		{"valid", tok, raw, "42", false},
		{"wrong key", other, raw, "", true},
		{"expired", later, raw, "", true},
		{"garbage", tok, "not-a-token", "", true},
		{"alg none", tok, unsigned, "", true},
		{"missing subject", tok, noSub, "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := tt.tokens.Verify(tt.raw)
			if tt.wantErr {
				if !errors.Is(err, ErrInvalidToken) {
					t.Fatalf("Verify() error = %v, want ErrInvalidToken", err)
				}
				return
			}
			if err != nil || got != tt.want {
				t.Errorf("Verify() = %q, %v; want %q", got, err, tt.want)
			}
		})
	}
}

func TestNewTokens_RequiresSecret(t *testing.T) {
	if _, err := NewTokens(config.AuthConfig{}); err == nil {
		t.Fatal("expected error")
	}
	tok := newTestTokens(t, "x", time.Now())
	if _, _, err := tok.Issue(""); err == nil {
		t.Error("Issue(\"\") should fail")
	}
}
