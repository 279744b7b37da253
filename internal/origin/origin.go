// Package origin implements the browser Origin allow-list shared by the relay's
// HTTP routes and its WebSocket upgrade.
package origin

import (
	"net/http"
	"net/url"
	"strconv"
	"strings"
)

// Policy decides which browser origins may reach the relay.
//
// An empty Allowed list means same-host only. "*" allows every origin.
type Policy struct {
	Allowed []string
}

// Check inspects r's Origin header. A request without one (CLI clients, curl)
// is always allowed and returns an empty origin.
func (p Policy) Check(r *http.Request) (normalized string, ok bool) {
	header := strings.TrimSpace(r.Header.Get("Origin"))
	if header == "" {
		return "", true
	}
	normalized, host, ok := NormalizeHeader(header)
	if !ok {
		return "", false
	}
	return normalized, IsAllowed(normalized, host, r.Host, p.Allowed)
}

// NormalizeHeader validates an Origin header value and returns the canonical
// scheme://host[:port] plus its host[:port] part. "null" is returned as-is.
func NormalizeHeader(originHeader string) (normalizedOrigin string, host string, ok bool) {
	trimmed := strings.TrimSpace(originHeader)
	switch trimmed {
	case "":
		return "", "", false
	case "null":
		return "null", "", true
	}

	u, err := url.Parse(trimmed)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return "", "", false
	}
	if u.User != nil || u.RawQuery != "" || u.Fragment != "" || (u.Path != "" && u.Path != "/") {
		return "", "", false
	}

	scheme := strings.ToLower(u.Scheme)
	if scheme != "http" && scheme != "https" {
		return "", "", false
	}
	host, ok = canonicalHost(u.Host, scheme)
	if !ok {
		return "", "", false
	}
	return scheme + "://" + host, host, true
}

// IsAllowed reports whether normalizedOrigin may access requestHost.
//
// With a non-empty allow-list, only listed origins (or "*") pass. Otherwise the
// origin's host[:port] must equal the request Host; the scheme is ignored since
// TLS may be terminated in front of the relay.
func IsAllowed(normalizedOrigin, originHost, requestHost string, allowedOrigins []string) bool {
	if len(allowedOrigins) > 0 {
		for _, allowed := range allowedOrigins {
			if allowed == "*" || allowed == normalizedOrigin {
				return true
			}
		}
		return false
	}

	scheme, _, found := strings.Cut(normalizedOrigin, "://")
	if !found {
		return false
	}
	reqHost, ok := canonicalHost(strings.ToLower(strings.TrimSpace(requestHost)), scheme)
	if !ok {
		return false
	}
	return originHost == reqHost
}

// canonicalHost lowercases the hostname, validates the port and drops it when
// it is the scheme's default.
func canonicalHost(authority, scheme string) (string, bool) {
	hostname, rawPort, ok := splitHostPort(authority)
	if !ok {
		return "", false
	}
	hostname = strings.ToLower(hostname)
	if hostname == "" {
		return "", false
	}

	var port uint64
	if rawPort != "" {
		n, err := strconv.ParseUint(rawPort, 10, 16)
		if err != nil || n == 0 {
			return "", false
		}
		port = n
	}
	if (scheme == "http" && port == 80) || (scheme == "https" && port == 443) {
		port = 0
	}

	if strings.Contains(hostname, ":") {
		hostname = "[" + hostname + "]"
	}
	if port != 0 {
		hostname += ":" + strconv.FormatUint(port, 10)
	}
	return hostname, true
}

// splitHostPort splits host[:port], unwrapping bracketed IPv6 literals.
func splitHostPort(authority string) (hostname, port string, ok bool) {
	if authority == "" {
		return "", "", false
	}
	if strings.HasPrefix(authority, "[") {
		end := strings.IndexByte(authority, ']')
		if end < 0 {
			return "", "", false
		}
		hostname, rest := authority[1:end], authority[end+1:]
		if rest == "" {
			return hostname, "", true
		}
		if len(rest) < 2 || rest[0] != ':' {
			return "", "", false
		}
		return hostname, rest[1:], true
	}

	switch strings.Count(authority, ":") {
	case 0:
		return authority, "", true
	case 1:
		hostname, port, _ = strings.Cut(authority, ":")
		if hostname == "" || port == "" {
			return "", "", false
		}
		return hostname, port, true
	default:
		return "", "", false
	}
}
