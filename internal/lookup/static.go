package lookup

import (
	"strings"
	"unicode"
)

// Common disposable domains
var disposableDomains = map[string]struct{}{
	"temp-mail.org": {}, "10minutemail.com": {}, "guerrillamail.com": {},
	"mailinator.com": {}, "yopmail.com": {}, "throwawaymail.com": {},
	"tempmail.net": {}, "sharklasers.com": {}, "dispostable.com": {},
	"trashmail.com": {}, "getnada.com": {}, "maildrop.cc": {},
	"fakeinbox.com": {}, "tempail.com": {}, "mohmal.com": {},
	"mytemp.email": {}, "burnermail.io": {}, "spamgourmet.com": {},
}

// MX servers that indicate the domain is inactive/parked
var parkedMXHosts = []string{
	"secureserver.net",  // GoDaddy Parking
	"parking.reg.ru",    // Registrar Parking
	"namecheap.com",     // Namecheap Parking
	"domaincontrol.com", // GoDaddy
	"h-email.net",       // Parking relay
	"bodis.com",         // Parking
}

// Common role-based prefixes
var roleAccounts = map[string]bool{
	"admin": true, "support": true, "info": true, "sales": true,
	"contact": true, "help": true, "office": true, "marketing": true,
	"jobs": true, "billing": true, "abuse": true, "postmaster": true,
	"noreply": true, "no-reply": true, "webmaster": true, "hostmaster": true,
	"hr": true, "security": true, "accounts": true, "team": true,
}

// Consumer mailbox providers. Not a negative signal on its own, but a
// bounce-risk input for business outreach.
var freeProviders = map[string]struct{}{
	"gmail.com": {}, "googlemail.com": {}, "yahoo.com": {}, "yahoo.co.uk": {},
	"hotmail.com": {}, "hotmail.co.uk": {}, "outlook.com": {}, "live.com": {},
	"aol.com": {}, "icloud.com": {}, "me.com": {}, "protonmail.com": {},
	"proton.me": {}, "gmx.com": {}, "gmx.de": {}, "mail.com": {},
	"mail.ru": {}, "yandex.ru": {}, "yandex.com": {}, "zoho.com": {},
}

// Fat-fingered variants of the big providers.
var commonTypos = map[string]string{
	"gmai.com":    "gmail.com",
	"gmal.com":    "gmail.com",
	"gmial.com":   "gmail.com",
	"gamil.com":   "gmail.com",
	"gmail.co":    "gmail.com",
	"gmail.cm":    "gmail.com",
	"yaho.com":    "yahoo.com",
	"yahooo.com":  "yahoo.com",
	"hotmai.com":  "hotmail.com",
	"hotmial.com": "hotmail.com",
	"outlok.com":  "outlook.com",
	"outloook.com": "outlook.com",
}

// Hostname shapes that practically never run mail service. Checked before
// spending fallback probes on a domain whose MX lookup failed.
var nonMailPrefixes = []string{
	"cdn.", "static.", "assets.", "img.", "images.", "media.", "files.",
	"fonts.", "js.", "css.", "api.", "edge.", "cache.",
}

var nonMailSuffixes = []string{
	".cloudfront.net",
	".s3.amazonaws.com",
	".fastly.net",
	".akamaiedge.net",
	".googleusercontent.com",
	".github.io",
	".netlify.app",
	".vercel.app",
	".pages.dev",
	".herokuapp.com",
	".azurewebsites.net",
	".core.windows.net",
}

// IsDisposableDomain checks if the domain is a known burner provider.
func IsDisposableDomain(domain string) bool {
	_, exists := disposableDomains[strings.ToLower(domain)]
	return exists
}

// IsRoleAccount checks if the local part is a generic function/role.
func IsRoleAccount(localPart string) bool {
	return roleAccounts[strings.ToLower(localPart)]
}

// IsParkedMX checks if an MX host points to a known parking service.
func IsParkedMX(mxHost string) bool {
	host := strings.ToLower(mxHost)
	for _, parked := range parkedMXHosts {
		if strings.Contains(host, parked) {
			return true
		}
	}
	return false
}

// IsFreeProvider reports whether the domain is a consumer mailbox provider.
func IsFreeProvider(domain string) bool {
	_, exists := freeProviders[strings.ToLower(domain)]
	return exists
}

// SuggestTypoFix returns the likely intended domain for known misspellings.
func SuggestTypoFix(domain string) (string, bool) {
	fixed, ok := commonTypos[strings.ToLower(domain)]
	return fixed, ok
}

// IsUnlikelyMailDomain flags asset/CDN-style hostnames that are not worth
// fallback probing once MX resolution has already failed.
func IsUnlikelyMailDomain(domain string) bool {
	d := strings.ToLower(domain)
	for _, p := range nonMailPrefixes {
		if strings.HasPrefix(d, p) {
			return true
		}
	}
	for _, s := range nonMailSuffixes {
		if strings.HasSuffix(d, s) {
			return true
		}
	}
	return false
}

// CalculateEntropy measures the "randomness" of a local part as the ratio of
// digits to total length. Mostly-numeric locals look machine-generated.
func CalculateEntropy(s string) float64 {
	if s == "" {
		return 0
	}

	digits := 0.0
	length := float64(len(s))

	for _, char := range s {
		if unicode.IsDigit(char) {
			digits++
		}
	}

	return digits / length
}
