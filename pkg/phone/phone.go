// Package phone canonicalizes human-entered phone numbers so that every
// spelling of the same number maps to the same storage key.
package phone

import (
	"errors"
	"fmt"
	"strings"

	"github.com/nyaruka/phonenumbers"
)

var ErrInvalidNumber = errors.New("not a valid international phone number")

// Normalize parses raw as an international phone number and returns its
// E.164 form. The number must carry its own country code (start with "+");
// there is no deployment-local region to guess one from. Validation checks
// the number is possible for its country, not that carrier metadata knows
// the exact range.
func Normalize(raw string) (string, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return "", fmt.Errorf("%q: %w", raw, ErrInvalidNumber)
	}

	num, err := phonenumbers.Parse(trimmed, "")
	if err != nil {
		return "", fmt.Errorf("%q: %w", raw, ErrInvalidNumber)
	}
	if !phonenumbers.IsPossibleNumber(num) {
		return "", fmt.Errorf("%q: %w", raw, ErrInvalidNumber)
	}

	return phonenumbers.Format(num, phonenumbers.E164), nil
}
