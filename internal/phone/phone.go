// Package phone normalizes provider phone identifiers and expands them into the
// format variants used for lead deduplication.
package phone

import (
	"fmt"
	"strings"

	"gitlab.com/timkado/api/crm-webhook-ingestor/internal/apperrors"
)

const (
	minDigits   = 10
	countryCode = "55"
)

// Normalize strips any @suffix routing annotation and every non-digit character.
// Fewer than 10 remaining digits is an ErrInvalidPhoneNumber.
func Normalize(raw string) (string, error) {
	s := raw
	if i := strings.IndexByte(s, '@'); i >= 0 {
		s = s[:i]
	}
	digits := strings.Map(func(r rune) rune {
		if r >= '0' && r <= '9' {
			return r
		}
		return -1
	}, s)
	if len(digits) < minDigits {
		return "", fmt.Errorf("%w: %q has %d digits", apperrors.ErrInvalidPhoneNumber, raw, len(digits))
	}
	return digits, nil
}

// National drops the leading country code from a 12 or 13 digit number.
func National(digits string) string {
	if (len(digits) == 12 || len(digits) == 13) && strings.HasPrefix(digits, countryCode) {
		return digits[len(countryCode):]
	}
	return digits
}

// Variants returns the distinct formats a stored lead phone may be in, in a stable order.
func Variants(raw string) ([]string, error) {
	digits, err := Normalize(raw)
	if err != nil {
		return nil, err
	}
	national := National(digits)

	out := make([]string, 0, 6)
	seen := make(map[string]struct{}, 6)
	add := func(v string) {
		if v == "" {
			return
		}
		if _, ok := seen[v]; ok {
			return
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}

	add(digits)
	add(countryCode + national)
	add("+" + countryCode + national)
	add(national)
	if len(national) == 10 || len(national) == 11 {
		stripped := national[2:]
		add(stripped)
		add("+" + countryCode + stripped)
	}
	return out, nil
}

// LockKey is the per-tenant key serialising lead creation for one phone.
func LockKey(companyID, raw string) (string, error) {
	digits, err := Normalize(raw)
	if err != nil {
		return "", err
	}
	return companyID + "|" + National(digits), nil
}
