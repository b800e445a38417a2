// Package netutil provides shared HTTP/network normalization helpers.
package netutil

import (
	"net"
	"strings"
)

// Hop-by-hop headers scoped to a single connection; they are not copied
// from a tunnel response to the public caller. Matched case-insensitively.
// Forwarded request frames are not filtered against this list.
var hopByHopHeaderNames = []string{
	"Connection",
	"Keep-Alive",
	"Proxy-Authenticate",
	"Proxy-Authorization",
	"Te",
	"Trailer",
	"Transfer-Encoding",
	"Upgrade",
}

// NormalizeHost lower-cases and strips ports/trailing dots from host values.
func NormalizeHost(raw string) string {
	host := strings.ToLower(strings.TrimSpace(raw))
	if host == "" {
		return ""
	}

	if h, p, err := net.SplitHostPort(host); err == nil && p != "" {
		host = h
	} else if strings.Count(host, ":") == 1 {
		left, right, ok := strings.Cut(host, ":")
		if ok && isDigits(right) {
			host = left
		}
	}

	host = strings.TrimPrefix(host, "[")
	host = strings.TrimSuffix(host, "]")
	return strings.TrimSuffix(host, ".")
}

// IsHopByHopHeader reports whether the header name is in the hop-by-hop
// drop-list.
func IsHopByHopHeader(name string) bool {
	for _, h := range hopByHopHeaderNames {
		if strings.EqualFold(name, h) {
			return true
		}
	}
	return false
}

func isDigits(v string) bool {
	if v == "" {
		return false
	}
	for _, r := range v {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
