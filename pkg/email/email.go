package email

import (
	"strings"
	"unicode"
)

// DeriveNameFromAddress guesses a first/last name from an email address.
// Used when a registration carries no display name and the identity-provider
// principal still needs one.
func DeriveNameFromAddress(address string) (string, string) {
	localPart := address
	if at := strings.IndexByte(address, '@'); at > 0 {
		localPart = address[:at]
	}

	parts := strings.FieldsFunc(localPart, func(r rune) bool {
		return r == '.' || r == '_' || r == '-' || r == '+'
	})

	if len(parts) == 0 {
		return "Resident", "Resident"
	}

	first := capitalize(parts[0])
	last := "Resident"
	if len(parts) > 1 {
		last = capitalize(parts[len(parts)-1])
	}

	return first, last
}

func capitalize(s string) string {
	if s == "" {
		return s
	}

	runes := []rune(s)
	runes[0] = unicode.ToUpper(runes[0])
	return string(runes)
}
