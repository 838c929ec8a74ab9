package security

import (
	"testing"
	"time"

	"github.com/pquerna/otp/totp"
)

func TestPasswordRoundTrip(t *testing.T) {
	hash, err := HashPassword("s3cret!")
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	if !CheckPassword(hash, "s3cret!") {
		t.Fatalf("expected password to match")
	}
	if CheckPassword(hash, "wrong") {
		t.Fatalf("expected wrong password to fail")
	}
}

func TestUserTokenRoundTrip(t *testing.T) {
	now := time.Now().UTC()
	token, expiresAt, err := IssueUserToken("secret", 42, "alice", "user", time.Hour, now)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if !expiresAt.After(now) {
		t.Fatalf("expected expiry after now")
	}
	claims, err := ParseUserToken("secret", token)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if claims.UserID != 42 || claims.Username != "alice" || claims.Role != "user" {
		t.Fatalf("unexpected claims: %+v", claims)
	}
	if _, err := ParseUserToken("other-secret", token); err == nil {
		t.Fatalf("expected signature failure with wrong secret")
	}
}

func TestUserTokenExpired(t *testing.T) {
	past := time.Now().UTC().Add(-2 * time.Hour)
	token, _, err := IssueUserToken("secret", 1, "bob", "admin", time.Hour, past)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if _, err := ParseUserToken("secret", token); err == nil {
		t.Fatalf("expected expired token to fail")
	}
}

func TestValidateTOTP(t *testing.T) {
	secret, _, err := GenerateTOTPSecret("GPTHub", "alice")
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	now := time.Now().UTC()
	code, err := totp.GenerateCode(secret, now)
	if err != nil {
		t.Fatalf("code: %v", err)
	}
	if !ValidateTOTP(secret, code, now) {
		t.Fatalf("expected code to validate")
	}
	if ValidateTOTP(secret, code, now.Add(10*time.Minute)) {
		t.Fatalf("expected stale code to fail")
	}
	if ValidateTOTP("", code, now) {
		t.Fatalf("expected empty secret to fail")
	}
}
