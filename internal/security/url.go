// Package security implements the SSRF-preventing backend URL guard: scheme
// checks, a blocklist of internal hostnames, IP-range checks, and an
// optional allowlist.
package security

import (
	"fmt"
	"net"
	"net/url"
	"strings"
)

// localhostNames are rejected unless the config allows localhost hosts.
var localhostNames = []string{
	"localhost",
	"localhost.localdomain",
	"ip6-localhost",
	"ip6-loopback",
}

// metadataHostnames are never valid backend hosts regardless of mode: they
// reach the cloud provider's instance-metadata service.
var metadataHostnames = []string{
	"metadata.google.internal",
	"metadata.goog",
	"169.254.169.254",
	"fd00:ec2::254",
}

// Config controls how strict URL validation is.
type Config struct {
	AllowHTTP       bool
	AllowLocalhost  bool
	AllowPrivateIPs bool
	AllowedDomains  []string
}

// Production returns the strict, production-mode configuration: HTTPS only,
// no loopback/private/link-local hosts, and no allowlist.
func Production() Config {
	return Config{}
}

// Development returns a relaxed configuration permitting HTTP and
// loopback/private hosts, for local testing against a local backend.
func Development() Config {
	return Config{AllowHTTP: true, AllowLocalhost: true, AllowPrivateIPs: true}
}

// WithAllowlist returns cfg with an allowlist of domains installed; hosts
// outside the allowlist (even otherwise-public ones) are rejected.
func (c Config) WithAllowlist(domains []string) Config {
	c.AllowedDomains = domains
	return c
}

// Error reports why a backend URL failed validation.
type Error struct {
	URL    string
	Reason string
}

func (e *Error) Error() string {
	return fmt.Sprintf("backend url %q rejected: %s", e.URL, e.Reason)
}

// ValidateBackendURL parses rawURL and validates it against cfg, returning
// the parsed URL on success.
func ValidateBackendURL(rawURL string, cfg Config) (*url.URL, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, &Error{URL: rawURL, Reason: "invalid URL: " + err.Error()}
	}

	switch u.Scheme {
	case "https":
	case "http":
		if !cfg.AllowHTTP {
			return nil, &Error{URL: rawURL, Reason: "scheme 'http' is not allowed, only HTTPS is permitted"}
		}
	default:
		return nil, &Error{URL: rawURL, Reason: fmt.Sprintf("scheme %q is not allowed, only HTTPS is permitted", u.Scheme)}
	}

	host := u.Hostname()
	if host == "" {
		return nil, &Error{URL: rawURL, Reason: "URL must have a host"}
	}

	hostLower := strings.ToLower(host)
	for _, blocked := range metadataHostnames {
		if hostLower == blocked || strings.HasSuffix(hostLower, "."+blocked) {
			return nil, &Error{URL: rawURL, Reason: fmt.Sprintf("host %q is blocked: metadata-service addresses are never allowed", host)}
		}
	}
	if !cfg.AllowLocalhost {
		for _, blocked := range localhostNames {
			if hostLower == blocked || strings.HasSuffix(hostLower, "."+blocked) {
				return nil, &Error{URL: rawURL, Reason: fmt.Sprintf("host %q is blocked: internal/private addresses are not allowed", host)}
			}
		}
	}

	if ip := net.ParseIP(host); ip != nil {
		if !cfg.AllowLocalhost && ip.IsLoopback() {
			return nil, &Error{URL: rawURL, Reason: fmt.Sprintf("host %q is a loopback address", host)}
		}
		if !cfg.AllowPrivateIPs && isPrivateIP(ip) {
			return nil, &Error{URL: rawURL, Reason: fmt.Sprintf("host %q is a private address", host)}
		}
		if isLinkLocal(ip) {
			return nil, &Error{URL: rawURL, Reason: fmt.Sprintf("host %q is a link-local address", host)}
		}
	}

	if len(cfg.AllowedDomains) > 0 {
		allowed := false
		for _, domain := range cfg.AllowedDomains {
			domainLower := strings.ToLower(domain)
			if hostLower == domainLower || strings.HasSuffix(hostLower, "."+domainLower) {
				allowed = true
				break
			}
		}
		if !allowed {
			return nil, &Error{URL: rawURL, Reason: fmt.Sprintf("host %q is not in the allowed domains list", host)}
		}
	}

	return u, nil
}

// isPrivateIP reports RFC 1918 / carrier-grade-NAT / current-network IPv4
// ranges, and the IPv6 Unique Local Address range (fc00::/7). Loopback and
// link-local are checked separately.
func isPrivateIP(ip net.IP) bool {
	if v4 := ip.To4(); v4 != nil {
		if v4.IsPrivate() {
			return true
		}
		// 100.64.0.0/10 carrier-grade NAT
		if v4[0] == 100 && (v4[1]&0xC0) == 64 {
			return true
		}
		// 0.0.0.0/8 "this network"
		if v4[0] == 0 {
			return true
		}
		return false
	}
	// fc00::/7
	return (ip[0] & 0xfe) == 0xfc
}

// isLinkLocal reports IPv4 169.254.0.0/16 (includes the AWS/GCP/Azure
// metadata endpoint) and IPv6 fe80::/10.
func isLinkLocal(ip net.IP) bool {
	if v4 := ip.To4(); v4 != nil {
		return v4[0] == 169 && v4[1] == 254
	}
	return ip.IsLinkLocalUnicast()
}
