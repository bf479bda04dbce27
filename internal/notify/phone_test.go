package notify

import (
	"strings"
	"testing"
)

func TestNormalize(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"+15551234567", "+15551234567"},
		{"5551234567", "+15551234567"},
		{"(555) 123-4567", "+15551234567"},
		{"+1 555 123 4567", "+15551234567"},
		{"+442071838750", "+442071838750"},
		{"442071838750", "+442071838750"},
		{"905-555-1234", "+19055551234"},
	}
	for _, tc := range cases {
		got, err := Normalize(tc.in)
		if err != nil {
			t.Fatalf("Normalize(%q): %v", tc.in, err)
		}
		if got != tc.want {
			t.Fatalf("Normalize(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestNormalizeRejectsShortNumbers(t *testing.T) {
	for _, in := range []string{"", "12345", "+1555123", "abc"} {
		if _, err := Normalize(in); err == nil {
			t.Fatalf("Normalize(%q) should fail", in)
		}
	}
}

func TestClaimMessage(t *testing.T) {
	url := ClaimURL("http://localhost:3000/", "c1")
	if url != "http://localhost:3000/claim/c1" {
		t.Fatalf("unexpected claim url: %s", url)
	}

	msg := ClaimMessage("50.00", "NATIVE", "4821", url, "Alice")
	if !strings.Contains(msg, "4821") {
		t.Fatalf("message is missing the PIN: %s", msg)
	}
	if !strings.Contains(msg, url) {
		t.Fatalf("message is missing the claim link: %s", msg)
	}
	if !strings.Contains(msg, "$50.00") {
		t.Fatalf("native amounts display with a currency sign: %s", msg)
	}
	if !strings.Contains(msg, "Alice") {
		t.Fatalf("sender name dropped: %s", msg)
	}

	anon := ClaimMessage("5", "EURC", "0001", url, "")
	if !strings.Contains(anon, "5 EURC") {
		t.Fatalf("non-native amounts display with the asset code: %s", anon)
	}
	if strings.Contains(anon, "Alice") {
		t.Fatalf("anonymous message should not name a sender: %s", anon)
	}
}
