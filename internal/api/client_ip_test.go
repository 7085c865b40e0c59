package api

import (
	"net/http/httptest"
	"testing"
)

func TestClientIPResolverResolve(t *testing.T) {
	tests := []struct {
		name         string
		trustedCIDRs []string
		remoteAddr   string
		forwardedFor string
		realIP       string
		want         string
	}{
		{
			name:         "direct connection ignores forwarding headers",
			remoteAddr:   "203.0.113.7:43210",
			forwardedFor: "198.51.100.5",
			realIP:       "198.51.100.6",
			want:         "203.0.113.7",
		},
		{
			name:         "trusted proxy believes forwarded-for",
			trustedCIDRs: []string{"172.30.0.0/24"},
			remoteAddr:   "172.30.0.10:12345",
			forwardedFor: "198.51.100.8, 172.30.0.10",
			want:         "198.51.100.8",
		},
		{
			name:         "bare proxy IP works without a mask",
			trustedCIDRs: []string{"172.30.0.10"},
			remoteAddr:   "172.30.0.10:12345",
			forwardedFor: "198.51.100.9",
			want:         "198.51.100.9",
		},
		{
			name:         "garbage forwarded-for falls back to real-ip",
			trustedCIDRs: []string{"172.30.0.10/32"},
			remoteAddr:   "172.30.0.10:12345",
			forwardedFor: "not-an-ip",
			realIP:       "198.51.100.10",
			want:         "198.51.100.10",
		},
		{
			name:         "no usable header falls back to the peer",
			trustedCIDRs: []string{"172.30.0.10/32"},
			remoteAddr:   "172.30.0.10:12345",
			want:         "172.30.0.10",
		},
		{
			name:       "unparsable peer address",
			remoteAddr: "garbage",
			want:       "unknown",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resolver, err := NewClientIPResolver(tt.trustedCIDRs)
			if err != nil {
				t.Fatalf("NewClientIPResolver() error = %v", err)
			}

			req := httptest.NewRequest("POST", "http://localhost/api/v1/auth/login", nil)
			req.RemoteAddr = tt.remoteAddr
			if tt.forwardedFor != "" {
				req.Header.Set("X-Forwarded-For", tt.forwardedFor)
			}
			if tt.realIP != "" {
				req.Header.Set("X-Real-IP", tt.realIP)
			}

			if got := resolver.Resolve(req); got != tt.want {
				t.Fatalf("Resolve() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestClientIPResolverRejectsInvalidCIDR(t *testing.T) {
	if _, err := NewClientIPResolver([]string{"not-a-network"}); err == nil {
		t.Fatal("NewClientIPResolver() error = nil, want invalid CIDR error")
	}
}
