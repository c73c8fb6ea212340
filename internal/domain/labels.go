package domain

import (
	"strings"
)

// ParsedLabels holds the per-container settings read from container labels.
type ParsedLabels struct {
	Enabled bool
	Aliases []string
}

// ParseLabels reads <prefix>.enabled and <prefix>.aliases. Containers are
// enabled unless explicitly disabled.
func ParseLabels(prefix string, labels map[string]string) ParsedLabels {
	pl := ParsedLabels{Enabled: true}
	if prefix == "" {
		return pl
	}

	if v, ok := labels[prefix+".enabled"]; ok && strings.EqualFold(strings.TrimSpace(v), "false") {
		pl.Enabled = false
	}

	if v, ok := labels[prefix+".aliases"]; ok {
		for _, alias := range strings.Split(v, ",") {
			if alias = strings.TrimSpace(alias); alias != "" {
				pl.Aliases = append(pl.Aliases, alias)
			}
		}
	}

	return pl
}
