package kennitala

import (
	"errors"
	"strings"
)

var ErrPhone = errors.New("phone number must have 7 digits")

// NormalizePhone reduces Icelandic phone numbers to their 7 local digits,
// dropping a +354 or 00354 country prefix. Empty input stays empty.
func NormalizePhone(value string) (string, error) {
	if strings.TrimSpace(value) == "" {
		return "", nil
	}
	var b strings.Builder
	for _, r := range value {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	digits := b.String()
	switch {
	case len(digits) == 12 && strings.HasPrefix(digits, "00354"):
		digits = digits[5:]
	case len(digits) == 10 && strings.HasPrefix(digits, "354"):
		digits = digits[3:]
	}
	if len(digits) != 7 {
		return "", ErrPhone
	}
	return digits, nil
}
