package core

import (
	"fmt"
	"strconv"
	"strings"
)

// ParseAmountCents converts a decimal amount string into integer cents.
// Both "12.34" and "12,34" are accepted; a third decimal digit rounds
// half-up. Signs are rejected, amounts cross this boundary positive.
func ParseAmountCents(s string) (int64, error) {
	s = strings.ReplaceAll(strings.TrimSpace(s), ",", ".")
	if s == "" || strings.HasPrefix(s, "+") || strings.HasPrefix(s, "-") {
		return 0, ErrInvalidAmount
	}

	intPart, fracPart, _ := strings.Cut(s, ".")
	if intPart == "" {
		intPart = "0"
	}
	if strings.Contains(fracPart, ".") {
		return 0, ErrInvalidAmount
	}

	units, err := strconv.ParseInt(intPart, 10, 64)
	if err != nil || units > (1<<63-1)/100 {
		return 0, ErrInvalidAmount
	}

	cents := units * 100
	digits := fracPart + "00"
	for _, r := range fracPart {
		if r < '0' || r > '9' {
			return 0, ErrInvalidAmount
		}
	}
	cents += int64(digits[0]-'0')*10 + int64(digits[1]-'0')
	if len(fracPart) > 2 && fracPart[2] >= '5' {
		cents++
	}
	if cents <= 0 {
		return 0, ErrInvalidAmount
	}
	return cents, nil
}

// String formats the amount as units.cents for logs and CLI summaries.
// Arithmetic always stays in cents.
func (m Money) String() string {
	sign := ""
	c := m.Cents
	if c < 0 {
		sign = "-"
		c = -c
	}
	return fmt.Sprintf("%s%d.%02d", sign, c/100, c%100)
}
