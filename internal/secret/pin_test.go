package secret

import (
	"testing"
)

func TestGeneratePINFormat(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 200; i++ {
		pin, err := GeneratePIN()
		if err != nil {
			t.Fatalf("generate: %v", err)
		}
		if len(pin) != PinDigits {
			t.Fatalf("pin %q has wrong length, leading zeros must be preserved", pin)
		}
		for _, r := range pin {
			if r < '0' || r > '9' {
				t.Fatalf("pin %q contains non-digit", pin)
			}
		}
		seen[pin] = true
	}
	if len(seen) < 2 {
		t.Fatalf("generator returned a constant pin")
	}
}

func TestHashPINRoundTrip(t *testing.T) {
	salt, err := NewSalt()
	if err != nil {
		t.Fatalf("salt: %v", err)
	}
	hash := HashPIN("0042", salt)

	if hash == "0042" {
		t.Fatalf("hash must not equal plaintext")
	}
	if !Matches(hash, salt, "0042") {
		t.Fatalf("correct pin did not match")
	}
	if Matches(hash, salt, "0043") {
		t.Fatalf("wrong pin matched")
	}

	otherSalt, _ := NewSalt()
	if Matches(hash, otherSalt, "0042") {
		t.Fatalf("hash matched under a different salt")
	}
}
