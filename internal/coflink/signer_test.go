package coflink

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"testing"
)

// testKeyPair generates a throwaway RSA pair and returns both halves as PEM.
func testKeyPair(t *testing.T) (privPEM, pubPEM []byte) {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	privPEM = pem.EncodeToMemory(&pem.Block{
		Type:  "RSA PRIVATE KEY",
		Bytes: x509.MarshalPKCS1PrivateKey(key),
	})
	pubDER, err := x509.MarshalPKIXPublicKey(&key.PublicKey)
	if err != nil {
		t.Fatalf("marshal public key: %v", err)
	}
	pubPEM = pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: pubDER})
	return privPEM, pubPEM
}

func TestSignVerify_RoundTrip(t *testing.T) {
	priv, pub := testKeyPair(t)

	sig, err := Sign("0045011003008", priv, "")
	if err != nil {
		t.Fatalf("Sign error: %v", err)
	}
	if !Verify("0045011003008", sig, pub) {
		t.Fatal("expected signature to verify")
	}
}

func TestVerify_FailsClosed(t *testing.T) {
	priv, pub := testKeyPair(t)
	_, otherPub := testKeyPair(t)

	sig, err := Sign("message", priv, "")
	if err != nil {
		t.Fatalf("Sign error: %v", err)
	}

	cases := []struct {
		name      string
		message   string
		signature string
		publicKey []byte
	}{
		{"wrong public key", "message", sig, otherPub},
		{"tampered message", "messagex", sig, pub},
		{"truncated signature", "message", sig[:len(sig)-8], pub},
		{"garbage base64", "message", "!!!not-base64!!!", pub},
		{"garbage key", "message", sig, []byte("not a pem")},
		{"empty signature", "message", "", pub},
	}
	for _, tc := range cases {
		if Verify(tc.message, tc.signature, tc.publicKey) {
			t.Fatalf("%s: expected verification to fail", tc.name)
		}
	}
}

func TestSign_EncryptedKeyWrongPassphrase(t *testing.T) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	block, err := x509.EncryptPEMBlock(rand.Reader, "RSA PRIVATE KEY",
		x509.MarshalPKCS1PrivateKey(key), []byte("correct-horse"), x509.PEMCipherAES256)
	if err != nil {
		t.Fatalf("encrypt PEM: %v", err)
	}
	privPEM := pem.EncodeToMemory(block)

	if _, err := Sign("message", privPEM, "wrong-passphrase"); !errors.Is(err, ErrPrivateKey) {
		t.Fatalf("expected ErrPrivateKey, got %v", err)
	}
	if _, err := Sign("message", privPEM, "correct-horse"); err != nil {
		t.Fatalf("expected signing with the right passphrase to work, got %v", err)
	}
}

func TestSign_BadPEM(t *testing.T) {
	if _, err := Sign("message", []byte("garbage"), ""); !errors.Is(err, ErrPrivateKey) {
		t.Fatalf("expected ErrPrivateKey, got %v", err)
	}
}
