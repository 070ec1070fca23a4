package token

import (
	"testing"
)

func TestFingerprint(t *testing.T) {
	t.Setenv(HMACEnvKey, "")

	if got := Fingerprint(""); got != "" {
		t.Fatalf("empty secret: got %q", got)
	}
	a := Fingerprint("refresh-a")
	if len(a) != fingerprintLen {
		t.Fatalf("len=%d", len(a))
	}
	if a != Fingerprint("refresh-a") {
		t.Fatalf("fingerprint not stable")
	}
	if a == Fingerprint("refresh-b") {
		t.Fatalf("distinct secrets collided")
	}

	t.Setenv(HMACEnvKey, "0123456789abcdef0123456789abcdef")
	if Fingerprint("refresh-a") == a {
		t.Fatalf("HMAC mode should change the fingerprint")
	}
}

func TestSealOpen(t *testing.T) {
	key, err := DeriveKey("a passphrase long enough")
	if err != nil {
		t.Fatalf("DeriveKey: %v", err)
	}

	sealed, err := Seal(key, []byte(`{"accessToken":"x"}`))
	if err != nil {
		t.Fatalf("Seal: %v", err)
	}
	plain, err := Open(key, sealed)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if string(plain) != `{"accessToken":"x"}` {
		t.Fatalf("round trip mismatch: %s", plain)
	}

	sealed[len(sealed)-1] ^= 0xff
	if _, err := Open(key, sealed); err == nil {
		t.Fatalf("expected tamper detection")
	}
	if _, err := Open(key, []byte("short")); err != ErrSealed {
		t.Fatalf("expected ErrSealed, got %v", err)
	}
}

func TestDeriveKey(t *testing.T) {
	cases := []struct {
		in   string
		want error
	}{
		{"", ErrKeyMissing},
		{"short", ErrKeyTooShort},
		{"sixteen-chars-ok", nil},
	}
	for _, tc := range cases {
		_, err := DeriveKey(tc.in)
		if err != tc.want {
			t.Fatalf("DeriveKey(%q) err=%v want %v", tc.in, err, tc.want)
		}
	}
}
