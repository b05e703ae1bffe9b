package auth

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"testing"
)

func signHS256(secret, header, payload string) string {
	h := base64.RawURLEncoding.EncodeToString([]byte(header))
	p := base64.RawURLEncoding.EncodeToString([]byte(payload))
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(h + "." + p))
	return h + "." + p + "." + base64.RawURLEncoding.EncodeToString(mac.Sum(nil))
}

func TestDevMode(t *testing.T) {
	v := &Verifier{Mode: "dev"}
	p, err := v.Verify("admin:ops-1")
	if err != nil || p.Role != "admin" || p.Subject != "ops-1" {
		t.Fatalf("got %+v err=%v", p, err)
	}
	if p, err := v.Verify("viewer"); err != nil || p.Role != "viewer" {
		t.Fatalf("role-only token: %+v err=%v", p, err)
	}
	if _, err := v.Verify(""); err == nil {
		t.Fatal("empty token accepted")
	}
}

func TestHMACMode(t *testing.T) {
	v := &Verifier{Mode: "hmac", HMACSecret: []byte("k"), RoleClaim: "role", SubClaim: "sub"}
	tok := signHS256("k", `{"alg":"HS256","typ":"JWT"}`, `{"role":"Admin","sub":"u1"}`)
	p, err := v.Verify(tok)
	if err != nil || p.Role != "admin" || p.Subject != "u1" {
		t.Fatalf("got %+v err=%v", p, err)
	}

	bad := signHS256("wrong", `{"alg":"HS256"}`, `{"role":"admin"}`)
	if _, err := v.Verify(bad); err == nil {
		t.Fatal("bad signature accepted")
	}
	if _, err := v.Verify("not.a.jwt.extra"); err == nil {
		t.Fatal("malformed token accepted")
	}
}
