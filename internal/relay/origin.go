package relay

import (
	"fmt"
	"net"
	"net/url"
	"strings"
)

// Origin matching modes
const (
	// OriginMatchExact compares scheme-checked host[:port] for equality
	OriginMatchExact = "exact"
	// OriginMatchContains accepts any origin containing an allow-listed
	// literal. "evil-localhost:5173.attacker.com" passes; keep for
	// deployments that still depend on it.
	OriginMatchContains = "contains"
)

// OriginPolicy decides which page origins may start a relay
type OriginPolicy struct {
	allowed []string
	mode    string
}

// NewOriginPolicy builds a policy. allowed entries are host[:port]
// literals; mode defaults to OriginMatchExact.
func NewOriginPolicy(allowed []string, mode string) (*OriginPolicy, error) {
	switch mode {
	case "":
		mode = OriginMatchExact
	case OriginMatchExact, OriginMatchContains:
	default:
		return nil, fmt.Errorf("unknown origin match mode: %s", mode)
	}

	list := make([]string, 0, len(allowed))
	for _, a := range allowed {
		a = strings.TrimSpace(a)
		if a == "" {
			continue
		}
		if mode == OriginMatchExact {
			a = strings.ToLower(a)
		}
		list = append(list, a)
	}
	return &OriginPolicy{allowed: list, mode: mode}, nil
}

// Allowed reports whether origin may relay
func (p *OriginPolicy) Allowed(origin string) bool {
	if origin == "" {
		return false
	}

	if p.mode == OriginMatchContains {
		for _, a := range p.allowed {
			if strings.Contains(origin, a) {
				return true
			}
		}
		return false
	}

	host, ok := originHost(origin)
	if !ok {
		return false
	}
	for _, a := range p.allowed {
		if host == a {
			return true
		}
	}
	return false
}

// originHost returns the lowercased host[:port] of an http(s) origin with
// the scheme's default port removed
func originHost(origin string) (string, bool) {
	u, err := url.Parse(origin)
	if err != nil || u.Host == "" || u.User != nil {
		return "", false
	}
	if u.Path != "" && u.Path != "/" {
		return "", false
	}

	scheme := strings.ToLower(u.Scheme)
	if scheme != "http" && scheme != "https" {
		return "", false
	}

	host := strings.ToLower(u.Hostname())
	port := u.Port()
	if (scheme == "http" && port == "80") || (scheme == "https" && port == "443") {
		port = ""
	}
	if port == "" {
		return host, true
	}
	return net.JoinHostPort(host, port), true
}

// OriginOf returns the scheme://host[:port] origin of a page URL
func OriginOf(pageURL string) string {
	u, err := url.Parse(pageURL)
	if err != nil || u.Host == "" {
		return ""
	}
	return u.Scheme + "://" + u.Host
}
