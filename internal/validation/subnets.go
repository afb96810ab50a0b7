package validation

import (
	"net/netip"
	"strings"
)

// IsIPInSubnets reports whether ip matches at least one entry of the
// allow-list. An empty list allows everything. Entries may be exact
// addresses ("10.0.0.5"), CIDR blocks ("10.0.0.0/8", "fd00::/8"), or
// wildcard patterns ("10.*.*.*"). Unparseable entries never match.
func IsIPInSubnets(ip string, subnets []string) bool {
	if len(subnets) == 0 {
		return true
	}
	addr, err := netip.ParseAddr(strings.TrimSpace(ip))
	if err != nil {
		return false
	}
	for _, subnet := range subnets {
		subnet = strings.TrimSpace(subnet)
		if subnet == "" {
			continue
		}
		if exact, err := netip.ParseAddr(subnet); err == nil {
			if exact == addr {
				return true
			}
			continue
		}
		if prefix, err := netip.ParsePrefix(subnet); err == nil {
			if prefix.Contains(addr) {
				return true
			}
			continue
		}
		if strings.Contains(subnet, "*") && matchWildcard(ip, subnet) {
			return true
		}
	}
	return false
}

// matchWildcard compares dotted-quad style patterns octet by octet,
// with "*" matching any single octet.
func matchWildcard(ip, pattern string) bool {
	ipParts := strings.Split(ip, ".")
	patParts := strings.Split(pattern, ".")
	if len(ipParts) != len(patParts) {
		return false
	}
	for i, pat := range patParts {
		if pat == "*" {
			continue
		}
		if ipParts[i] != pat {
			return false
		}
	}
	return true
}
