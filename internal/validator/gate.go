package validator

import (
	"strings"

	"github.com/badoux/checkmail"
)

// normalizeEmail lowercases and trims the raw address. Everything after the
// gate works on the normalized form.
func normalizeEmail(raw string) string {
	return strings.ToLower(strings.TrimSpace(raw))
}

// splitAddress cuts the address at the last @ so quoted local parts with
// embedded @ signs stay intact.
func splitAddress(email string) (local, domain string, ok bool) {
	i := strings.LastIndex(email, "@")
	if i <= 0 || i == len(email)-1 {
		return "", "", false
	}
	return email[:i], email[i+1:], true
}

// syntaxError reports why the address shape is unacceptable, or "" when it
// passes. Length limits follow RFC 5321. Nothing here touches the network.
func syntaxError(email string) string {
	if len(email) > 320 {
		return "address exceeds 320 characters"
	}
	if strings.ContainsAny(email, " \t") {
		return "address contains whitespace"
	}
	local, domain, ok := splitAddress(email)
	if !ok {
		return "address must contain a local part and a domain"
	}
	if len(local) > 64 {
		return "local part exceeds 64 characters"
	}
	if len(domain) > 255 {
		return "domain exceeds 255 characters"
	}
	if !strings.Contains(domain, ".") {
		return "domain is missing a top-level label"
	}
	if err := checkmail.ValidateFormat(email); err != nil {
		return "address fails format validation"
	}
	return ""
}
