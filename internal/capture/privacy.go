package capture

import (
	"net/netip"
	"strings"
)

// AnonymizeIP zeroes the host part of an address: the last octet of IPv4 and
// the last 80 bits of IPv6. Unparseable input yields "".
func AnonymizeIP(ip string) string {
	addr, err := netip.ParseAddr(strings.TrimSpace(ip))
	if err != nil {
		return ""
	}
	addr = addr.Unmap()

	bits := 24
	if addr.Is6() {
		bits = 48
	}
	prefix, err := addr.Prefix(bits)
	if err != nil {
		return ""
	}
	return prefix.Addr().String()
}

// matchPath reports whether a request path matches an ignore pattern. Both
// sides are compared without surrounding slashes and "*" matches any run of
// characters, slashes included.
func matchPath(pattern, path string) bool {
	pattern = strings.Trim(pattern, "/")
	path = strings.Trim(path, "/")

	parts := strings.Split(pattern, "*")
	if len(parts) == 1 {
		return path == pattern
	}
	if !strings.HasPrefix(path, parts[0]) {
		return false
	}
	rest := path[len(parts[0]):]
	for _, part := range parts[1 : len(parts)-1] {
		i := strings.Index(rest, part)
		if i < 0 {
			return false
		}
		rest = rest[i+len(part):]
	}
	return strings.HasSuffix(rest, parts[len(parts)-1])
}

// hasPathPrefix reports whether path is prefix itself or below it.
func hasPathPrefix(path, prefix string) bool {
	prefix = strings.Trim(prefix, "/")
	if prefix == "" {
		return false
	}
	path = strings.Trim(path, "/")
	return path == prefix || strings.HasPrefix(path, prefix+"/")
}
