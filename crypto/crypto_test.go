package crypto

import (
	"bytes"
	"crypto/rand"
	"encoding/base64"
	"testing"
)

func testKey(t *testing.T) string {
	t.Helper()
	key := make([]byte, 32)
	if _, err := rand.Read(key); err != nil {
		t.Fatalf("rand: %v", err)
	}
	return base64.StdEncoding.EncodeToString(key)
}

func TestSealOpenRoundTrip(t *testing.T) {
	c, err := NewCipher(testKey(t))
	if err != nil {
		t.Fatalf("NewCipher: %v", err)
	}
	plain := []byte(`{"access_token":"ya29.secret","refresh_token":"1//refresh"}`)
	sealed, err := c.Seal(plain)
	if err != nil {
		t.Fatalf("Seal: %v", err)
	}
	if bytes.Contains(sealed, []byte("secret")) {
		t.Fatal("ciphertext leaks plaintext")
	}
	got, err := c.Open(sealed)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if !bytes.Equal(got, plain) {
		t.Errorf("round trip mismatch")
	}
}

func TestSealRandomizesNonce(t *testing.T) {
	c, _ := NewCipher(testKey(t))
	a, _ := c.Seal([]byte("same input"))
	b, _ := c.Seal([]byte("same input"))
	if bytes.Equal(a, b) {
		t.Error("two seals of the same plaintext are identical")
	}
}

func TestOpenRejectsTampering(t *testing.T) {
	c, _ := NewCipher(testKey(t))
	sealed, _ := c.Seal([]byte("payload"))
	sealed[len(sealed)-1] ^= 0x01
	if _, err := c.Open(sealed); err == nil {
		t.Error("tampered ciphertext accepted")
	}
}

func TestOpenRejectsWrongKey(t *testing.T) {
	c1, _ := NewCipher(testKey(t))
	c2, _ := NewCipher(testKey(t))
	sealed, _ := c1.Seal([]byte("payload"))
	if _, err := c2.Open(sealed); err == nil {
		t.Error("wrong key accepted")
	}
}

func TestNewCipherKeyValidation(t *testing.T) {
	if _, err := NewCipher(""); err == nil {
		t.Error("empty key accepted")
	}
	if _, err := NewCipher("not base64!!"); err == nil {
		t.Error("bad base64 accepted")
	}
	short := base64.StdEncoding.EncodeToString(make([]byte, 16))
	if _, err := NewCipher(short); err == nil {
		t.Error("16-byte key accepted")
	}
}

func TestOpenShortCiphertext(t *testing.T) {
	c, _ := NewCipher(testKey(t))
	if _, err := c.Open([]byte{1, 2, 3}); err == nil {
		t.Error("short ciphertext accepted")
	}
}
