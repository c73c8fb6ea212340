package domain

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/miekg/dns"
)

var invalidLabelChars = regexp.MustCompile(`[^a-z0-9-]+`)

// SanitizeLabel turns an arbitrary container or network name into a single DNS label.
func SanitizeLabel(s string) string {
	s = strings.ToLower(strings.TrimPrefix(s, "/"))
	s = invalidLabelChars.ReplaceAllString(s, "-")
	return strings.Trim(s, "-")
}

// DomainName joins the given labels with the domain suffix. Each label is
// sanitized first; the suffix is used as-is apart from surrounding dots.
func DomainName(suffix string, labels ...string) (string, error) {
	parts := make([]string, 0, len(labels)+1)
	for _, l := range labels {
		sl := SanitizeLabel(l)
		if sl == "" {
			return "", fmt.Errorf("%w: empty label from %q", ErrInvalidName, l)
		}
		parts = append(parts, sl)
	}
	if suffix = strings.Trim(suffix, "."); suffix != "" {
		parts = append(parts, strings.ToLower(suffix))
	}
	name := strings.Join(parts, ".")
	if !IsValidDomainName(name) {
		return "", fmt.Errorf("%w: %s", ErrInvalidName, name)
	}
	return name, nil
}

var hostnameRegexp = regexp.MustCompile(`^[a-zA-Z0-9](?:[a-zA-Z0-9-]{0,61}[a-zA-Z0-9])?(?:\.[a-zA-Z0-9](?:[a-zA-Z0-9-]{0,61}[a-zA-Z0-9])?)*$`)

func IsValidDomainName(h string) bool {
	if len(h) == 0 || len(h) > 253 || !hostnameRegexp.MatchString(h) {
		return false
	}
	_, ok := dns.IsDomainName(h)
	return ok
}
