package notify

import (
	"errors"
	"strings"
)

var ErrInvalidPhone = errors.New("phone number must have at least 10 digits")

// Normalize canonicalizes a phone number to E.164 form: a "+" followed by
// digits. Bare 10-digit numbers are assumed North American and get a +1
// country code. Pure function, no provider involvement.
func Normalize(raw string) (string, error) {
	var b strings.Builder
	for i, r := range raw {
		switch {
		case r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == '+' && i == 0:
			b.WriteRune(r)
		}
	}
	cleaned := b.String()

	if !strings.HasPrefix(cleaned, "+") {
		if len(cleaned) == 10 {
			cleaned = "+1" + cleaned
		} else {
			cleaned = "+" + cleaned
		}
	}

	if len(strings.TrimPrefix(cleaned, "+")) < 10 {
		return "", ErrInvalidPhone
	}
	return cleaned, nil
}
