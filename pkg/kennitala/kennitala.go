// Package kennitala validates Icelandic national identification numbers,
// which serve as the stable record key between the registry and its replica.
package kennitala

import (
	"errors"
	"strings"
)

var (
	ErrLength   = errors.New("kennitala must be 10 digits")
	ErrDate     = errors.New("kennitala has an invalid date part")
	ErrCentury  = errors.New("kennitala has an invalid century digit")
	ErrChecksum = errors.New("kennitala checksum mismatch")
)

var weights = [8]int{3, 2, 7, 6, 5, 4, 3, 2}

// Normalize strips whitespace and the DDMMYY-XXXX separator.
func Normalize(value string) string {
	value = strings.TrimSpace(value)
	return strings.NewReplacer("-", "", " ", "").Replace(value)
}

// Validate checks the normalized value against the mod-11 rules.
func Validate(value string) error {
	kt := Normalize(value)
	if len(kt) != 10 {
		return ErrLength
	}
	digits := [10]int{}
	for i, r := range kt {
		if r < '0' || r > '9' {
			return ErrLength
		}
		digits[i] = int(r - '0')
	}

	day := digits[0]*10 + digits[1]
	month := digits[2]*10 + digits[3]
	if day > 40 {
		day -= 40
	}
	if day < 1 || day > 31 || month < 1 || month > 12 {
		return ErrDate
	}

	switch digits[9] {
	case 0, 8, 9:
	default:
		return ErrCentury
	}

	sum := 0
	for i, w := range weights {
		sum += digits[i] * w
	}
	check := 11 - sum%11
	if check == 11 {
		check = 0
	}
	if check == 10 || check != digits[8] {
		return ErrChecksum
	}
	return nil
}

// Parse normalizes and validates in one step.
func Parse(value string) (string, error) {
	kt := Normalize(value)
	if err := Validate(kt); err != nil {
		return "", err
	}
	return kt, nil
}

// IsCompany reports whether the day part carries the +40 company offset.
func IsCompany(kt string) bool {
	kt = Normalize(kt)
	return len(kt) == 10 && kt[0] >= '4'
}

// Format renders DDMMYY-XXXX for display.
func Format(kt string) string {
	kt = Normalize(kt)
	if len(kt) != 10 {
		return kt
	}
	return kt[:6] + "-" + kt[6:]
}

// Mask hides the personal part for log lines.
func Mask(kt string) string {
	kt = Normalize(kt)
	if len(kt) < 6 {
		return "****"
	}
	return kt[:6] + "****"
}
