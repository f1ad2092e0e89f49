package agent

import (
	"crypto/rand"
	"fmt"
	"math/big"
	"regexp"
	"strings"
)

var domainPattern = regexp.MustCompile(`^[a-z0-9](?:[a-z0-9-]{0,61}[a-z0-9])?(?:\.[a-z0-9](?:[a-z0-9-]{0,61}[a-z0-9])?)+$`)

// NormalizeDomain lowercases, trims and validates a domain name.
func NormalizeDomain(domain string) (string, error) {
	domain = strings.ToLower(strings.TrimSpace(domain))
	domain = strings.TrimSuffix(domain, ".")
	if domain == "" {
		return "", fmt.Errorf("domain is required")
	}
	if !domainPattern.MatchString(domain) {
		return "", fmt.Errorf("invalid domain %q", domain)
	}
	return domain, nil
}

const (
	userPrefix     = "site-"
	maxUsernameLen = 32
)

// UsernameForDomain derives the system user owning a site's tree. The
// derivation is deterministic: lowercase, dots become hyphens, any other
// character outside [a-z0-9-] is dropped, the result is prefixed,
// truncated to the platform username limit and stripped of a trailing
// hyphen left by truncation.
func UsernameForDomain(domain string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(strings.TrimSpace(domain)) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '-':
			b.WriteRune(r)
		case r == '.':
			b.WriteByte('-')
		}
	}
	name := userPrefix + b.String()
	if len(name) > maxUsernameLen {
		name = name[:maxUsernameLen]
	}
	return strings.TrimRight(name, "-")
}

// DBNameForDomain derives the site's database name. Only [a-z0-9_] is
// kept so the identifier never needs quoting.
func DBNameForDomain(domain string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(strings.TrimSpace(domain)) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == '.' || r == '-':
			b.WriteByte('_')
		}
	}
	name := b.String()
	if len(name) > 60 {
		name = name[:60]
	}
	return strings.Trim(name, "_")
}

// DBUserForDomain derives the database account, bounded by the MySQL
// username limit.
func DBUserForDomain(domain string) string {
	name := DBNameForDomain(domain)
	if len(name) > 32 {
		name = name[:32]
	}
	return strings.Trim(name, "_")
}

const passwordAlphabet = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

// randomPassword generates an alphanumeric-only password so the value
// never needs SQL or shell escaping.
func randomPassword(length int) (string, error) {
	b := make([]byte, length)
	max := big.NewInt(int64(len(passwordAlphabet)))
	for i := range b {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", fmt.Errorf("generate password: %w", err)
		}
		b[i] = passwordAlphabet[n.Int64()]
	}
	return string(b), nil
}
