// Package subdomain implements the DNS-label helpers used to route public
// requests to tunnels: extracting a label from a Host header, sanitizing
// client-supplied labels, and generating random ones.
package subdomain

import (
	"crypto/rand"
	"encoding/hex"
	"strings"

	"github.com/krishna3006b/localhosted-tunnel-server/internal/netutil"
)

// maxLabelLen is the DNS limit for a single label.
const maxLabelLen = 63

var adjectives = []string{
	"brave", "calm", "eager", "fancy", "gentle", "happy",
	"jolly", "lucky", "mellow", "quick", "sunny", "witty",
}

var nouns = []string{
	"falcon", "harbor", "lantern", "meadow", "nebula", "otter",
	"pebble", "quartz", "river", "summit", "tiger", "willow",
}

// Extract returns the subdomain label selecting a tunnel for the given
// Host header value, or "" when the host is not tunnel traffic. Nested
// subdomains and the bare root domain are rejected.
func Extract(host, rootDomain string) string {
	host = netutil.NormalizeHost(host)
	rootDomain = netutil.NormalizeHost(rootDomain)
	if host == "" || rootDomain == "" {
		return ""
	}

	suffix := "." + rootDomain
	if !strings.HasSuffix(host, suffix) {
		return ""
	}
	label := strings.TrimSuffix(host, suffix)
	if label == "" || strings.Contains(label, ".") {
		return ""
	}
	return label
}

// Sanitize normalizes arbitrary input into a valid label: lowercase, runs
// of characters outside [a-z0-9-] become a single dash, dash runs
// collapse, leading/trailing dashes are trimmed, and the result is
// truncated to 63 bytes (trimming any dash the cut exposes). Sanitize is
// idempotent.
func Sanitize(input string) string {
	input = strings.ToLower(input)

	var b strings.Builder
	b.Grow(len(input))
	lastDash := false
	for _, r := range input {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
			lastDash = false
		default:
			if !lastDash {
				b.WriteByte('-')
				lastDash = true
			}
		}
	}

	label := strings.Trim(b.String(), "-")
	if len(label) > maxLabelLen {
		// Truncation can land on a dash boundary; trim again so the
		// label grammar holds.
		label = strings.Trim(label[:maxLabelLen], "-")
	}
	return label
}

// Generate returns a random adjective-noun label with a 4-character hex
// suffix, e.g. "happy-otter-3f2c".
func Generate() string {
	var buf [3]byte
	_, _ = rand.Read(buf[:])
	adj := adjectives[int(buf[0])%len(adjectives)]
	noun := nouns[int(buf[1])%len(nouns)]

	var sfx [2]byte
	_, _ = rand.Read(sfx[:])
	return adj + "-" + noun + "-" + hex.EncodeToString(sfx[:])
}
