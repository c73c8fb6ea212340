package mirror

import (
	"fmt"
	"regexp"
	"slices"
	"strconv"
	"strings"

	"github.com/miekg/dns"
)

var indexSegment = regexp.MustCompile(`^x([0-9]+)$`)

// keyBaseForFQDN maps web.docker to <prefix>/docker/web, the SkyDNS layout
// read by the CoreDNS etcd plugin.
func keyBaseForFQDN(prefix, fqdn string) string {
	prefix = strings.TrimRight(prefix, "/")
	labels := dns.SplitDomainName(fqdn)
	slices.Reverse(labels)
	return fmt.Sprintf("%s/%s", prefix, strings.Join(labels, "/"))
}

func indexedKey(base string, index int) string {
	return fmt.Sprintf("%s/x%d", base, index)
}

// splitIndexedKey splits <base>/x<N> into base and N.
func splitIndexedKey(key string) (string, int, bool) {
	i := strings.LastIndex(key, "/")
	if i < 0 {
		return "", 0, false
	}
	m := indexSegment.FindStringSubmatch(key[i+1:])
	if m == nil {
		return "", 0, false
	}
	n, err := strconv.Atoi(m[1])
	if err != nil {
		return "", 0, false
	}
	return key[:i], n, true
}
