package email

import (
	"net/mail"
	"strings"
)

// Normalize trims and lower-cases an address so that lookups and the unique
// index agree on a single spelling.
func Normalize(address string) string {
	return strings.ToLower(strings.TrimSpace(address))
}

// IsValid reports whether address parses as a bare RFC 5322 address.
func IsValid(address string) bool {
	address = strings.TrimSpace(address)
	if address == "" {
		return false
	}
	parsed, err := mail.ParseAddress(address)
	if err != nil {
		return false
	}
	return parsed.Address == address
}
