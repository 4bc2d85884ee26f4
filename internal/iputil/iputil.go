// Package iputil resolves client addresses behind proxies and matches
// them against allowlists.
package iputil

import (
	"fmt"
	"net"
	"net/http"
	"strings"
)

// ParseCIDRs parses IP addresses or CIDR notations. A bare address becomes
// a /32 (IPv4) or /128 (IPv6) network.
func ParseCIDRs(cidrStrings []string) ([]*net.IPNet, error) {
	if len(cidrStrings) == 0 {
		return nil, nil
	}

	cidrs := make([]*net.IPNet, 0, len(cidrStrings))
	for _, cidrStr := range cidrStrings {
		cidrStr = strings.TrimSpace(cidrStr)
		if ip := net.ParseIP(cidrStr); ip != nil {
			bits := 128
			if v4 := ip.To4(); v4 != nil {
				ip, bits = v4, 32
			}
			cidrs = append(cidrs, &net.IPNet{IP: ip, Mask: net.CIDRMask(bits, bits)})
			continue
		}
		_, ipNet, err := net.ParseCIDR(cidrStr)
		if err != nil {
			return nil, fmt.Errorf("invalid IP/CIDR format: %s (%w)", cidrStr, err)
		}
		cidrs = append(cidrs, ipNet)
	}
	return cidrs, nil
}

// IsIPInAnyCIDR checks if ip falls within any of the given networks.
func IsIPInAnyCIDR(ip net.IP, cidrs []*net.IPNet) bool {
	if ip == nil {
		return false
	}
	for _, cidr := range cidrs {
		if cidr.Contains(ip) {
			return true
		}
	}
	return false
}

// Resolver extracts the client address of a request. Forwarding headers
// are only believed when the immediate peer is a trusted proxy.
type Resolver struct {
	trusted []*net.IPNet
	header  string // e.g. X-Real-IP, checked before X-Forwarded-For
}

// NewResolver parses the trusted proxy list.
func NewResolver(trustedProxies []string, clientIPHeader string) (*Resolver, error) {
	trusted, err := ParseCIDRs(trustedProxies)
	if err != nil {
		return nil, fmt.Errorf("trusted_proxies: %w", err)
	}
	return &Resolver{trusted: trusted, header: clientIPHeader}, nil
}

// ClientIP returns the originating client address of r.
func (res *Resolver) ClientIP(r *http.Request) string {
	peer := remoteHost(r.RemoteAddr)
	if !IsIPInAnyCIDR(net.ParseIP(peer), res.trusted) {
		return peer
	}

	if res.header != "" {
		if ip := strings.TrimSpace(r.Header.Get(res.header)); net.ParseIP(ip) != nil {
			return ip
		}
	}
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		if ip := strings.TrimSpace(first); net.ParseIP(ip) != nil {
			return ip
		}
	}
	return peer
}

func remoteHost(addr string) string {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		return addr
	}
	return host
}

// LoopbackNetworks is the allowlist used when none is configured.
var LoopbackNetworks = []string{"127.0.0.0/8", "::1"}

// Allowlist matches addresses against a fixed set of networks. An empty
// allowlist admits loopback clients only.
type Allowlist struct {
	nets []*net.IPNet
}

// NewAllowlist parses the allowed addresses and networks.
func NewAllowlist(entries []string) (*Allowlist, error) {
	if len(entries) == 0 {
		entries = LoopbackNetworks
	}
	nets, err := ParseCIDRs(entries)
	if err != nil {
		return nil, err
	}
	return &Allowlist{nets: nets}, nil
}

// Allows reports whether ip may pass.
func (a *Allowlist) Allows(ip string) bool {
	parsed := net.ParseIP(ip)
	if a == nil {
		return parsed != nil && parsed.IsLoopback()
	}
	return IsIPInAnyCIDR(parsed, a.nets)
}
