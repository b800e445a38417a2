package netutil

import "testing"

func TestNormalizeHost(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in   string
		want string
	}{
		{"Example.COM", "example.com"},
		{"example.com:8080", "example.com"},
		{"example.com.", "example.com"},
		{" a.example.com ", "a.example.com"},
		{"[::1]:8080", "::1"},
		{"", ""},
	}
	for _, tc := range tests {
		if got := NormalizeHost(tc.in); got != tc.want {
			t.Errorf("NormalizeHost(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestIsHopByHopHeader(t *testing.T) {
	t.Parallel()

	for _, name := range []string{"Connection", "connection", "KEEP-ALIVE", "transfer-encoding", "Upgrade", "te"} {
		if !IsHopByHopHeader(name) {
			t.Errorf("expected %q to be hop-by-hop", name)
		}
	}
	for _, name := range []string{"Content-Type", "X-Custom", "Host", "Content-Length"} {
		if IsHopByHopHeader(name) {
			t.Errorf("expected %q to be end-to-end", name)
		}
	}
}
