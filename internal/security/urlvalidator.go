package security

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"strings"
)

var (
	ErrPrivateIP     = errors.New("URL resolves to private IP address")
	ErrInvalidScheme = errors.New("URL scheme is not allowed")
	ErrMissingHost   = errors.New("URL has no host")
)

// URLPolicy decides which result URLs may be fetched. The zero value is the
// strict policy: https only, no private or reserved addresses.
type URLPolicy struct {
	AllowHTTP    bool
	AllowPrivate bool
}

// Permissive accepts plain http and loopback hosts. Meant for local test servers.
var Permissive = URLPolicy{AllowHTTP: true, AllowPrivate: true}

// ValidateResultURL checks a URL returned by the workflow before the client
// downloads it. data: URIs are always accepted since nothing is fetched.
func (p URLPolicy) ValidateResultURL(rawURL string) error {
	if strings.HasPrefix(rawURL, "data:") {
		return nil
	}

	parsed, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("invalid URL: %w", err)
	}

	switch parsed.Scheme {
	case "https":
	case "http":
		if !p.AllowHTTP {
			return ErrInvalidScheme
		}
	default:
		return ErrInvalidScheme
	}

	host := parsed.Hostname()
	if host == "" {
		return ErrMissingHost
	}
	if p.AllowPrivate {
		return nil
	}
	return validateHostIP(host)
}

// ValidateEndpoint checks the configured webhook URL. Private hosts are
// fine here since self-hosted n8n is common.
func ValidateEndpoint(rawURL string) error {
	parsed, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return fmt.Errorf("invalid URL: %w", err)
	}
	if parsed.Scheme != "https" && parsed.Scheme != "http" {
		return ErrInvalidScheme
	}
	if parsed.Host == "" {
		return ErrMissingHost
	}
	return nil
}

func validateHostIP(host string) error {
	if ip := net.ParseIP(host); ip != nil {
		if isPrivateIP(ip) {
			return ErrPrivateIP
		}
		return nil
	}

	if strings.EqualFold(host, "localhost") {
		return ErrPrivateIP
	}

	ips, err := net.LookupIP(host)
	if err != nil {
		return nil
	}
	for _, ip := range ips {
		if isPrivateIP(ip) {
			return ErrPrivateIP
		}
	}
	return nil
}

var reservedBlocks = mustParseCIDRs(
	"0.0.0.0/8",
	"100.64.0.0/10",
	"192.0.0.0/24",
	"192.0.2.0/24",
	"198.51.100.0/24",
	"203.0.113.0/24",
	"224.0.0.0/4",
	"240.0.0.0/4",
)

func isPrivateIP(ip net.IP) bool {
	if ip.IsLoopback() || ip.IsLinkLocalUnicast() || ip.IsLinkLocalMulticast() ||
		ip.IsPrivate() || ip.IsUnspecified() {
		return true
	}
	for _, block := range reservedBlocks {
		if block.Contains(ip) {
			return true
		}
	}
	return false
}

func mustParseCIDRs(cidrs ...string) []*net.IPNet {
	out := make([]*net.IPNet, 0, len(cidrs))
	for _, c := range cidrs {
		_, block, err := net.ParseCIDR(c)
		if err != nil {
			panic(err)
		}
		out = append(out, block)
	}
	return out
}
