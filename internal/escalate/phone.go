package escalate

import "strings"

// DefaultCountryCode is prefixed to bare 10-digit national numbers.
const DefaultCountryCode = "+91"

// NormalizePhone cleans a stored phone number for dialing:
//
//   - everything except digits and '+' is stripped
//   - a number with a leading '+' keeps its country code as-is
//   - otherwise one leading trunk '0' is stripped
//   - a bare 10-digit national number gets countryCode prefixed
//
// Anything else (short codes like "100", already-prefixed numbers) passes
// through digits-only.
func NormalizePhone(raw, countryCode string) string {
	if countryCode == "" {
		countryCode = DefaultCountryCode
	}

	plus := strings.HasPrefix(strings.TrimSpace(raw), "+")
	var digits strings.Builder
	for _, r := range raw {
		if r >= '0' && r <= '9' {
			digits.WriteRune(r)
		}
	}
	cleaned := digits.String()

	if plus {
		return "+" + cleaned
	}

	cleaned = strings.TrimPrefix(cleaned, "0")
	if len(cleaned) == 10 {
		return countryCode + cleaned
	}
	return cleaned
}
