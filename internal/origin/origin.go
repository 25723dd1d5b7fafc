// Package origin implements the relay's allow-list policy for the Origin
// header a browser sends on the WebSocket upgrade handshake (and, for the
// plain HTTP routes fronted by the same policy, on a CORS preflight).
package origin

import (
	"net/url"
	"strconv"
	"strings"
)

// NormalizeHeader validates and canonicalizes a raw Origin header value.
//
// It returns the canonical origin (scheme://host[:port]) and the
// host[:port] portion used for same-host comparisons in IsAllowed. The
// special value "null" — sent by sandboxed iframes and some native
// WebSocket clients — passes through unchanged.
func NormalizeHeader(originHeader string) (normalizedOrigin string, host string, ok bool) {
	trimmed := strings.TrimSpace(originHeader)
	if trimmed == "" {
		return "", "", false
	}
	if trimmed == "null" {
		return "null", "", true
	}

	u, err := url.Parse(trimmed)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return "", "", false
	}
	if u.User != nil || u.RawQuery != "" || u.Fragment != "" {
		return "", "", false
	}
	if u.Path != "" && u.Path != "/" {
		return "", "", false
	}

	scheme := strings.ToLower(u.Scheme)
	if scheme != "http" && scheme != "https" {
		return "", "", false
	}

	host, ok = canonicalAuthority(u.Host, scheme)
	if !ok {
		return "", "", false
	}
	return scheme + "://" + host, host, true
}

// IsAllowed reports whether a signaling client whose upgrade request
// carried normalizedOrigin (as produced by NormalizeHeader) may reach the
// relay listening on requestHost.
//
// When allowList is non-empty, each entry must be either "*" or a
// normalized origin string. An empty allow-list falls back to same-host
// policy: the origin's host[:port] must equal the request's, ignoring
// scheme so the check still passes when the relay sits behind a
// TLS-terminating proxy.
func IsAllowed(normalizedOrigin, originHost, requestHost string, allowList []string) bool {
	if len(allowList) > 0 {
		for _, allowed := range allowList {
			if allowed == "*" || allowed == normalizedOrigin {
				return true
			}
		}
		return false
	}

	scheme := ""
	switch {
	case strings.HasPrefix(normalizedOrigin, "http://"):
		scheme = "http"
	case strings.HasPrefix(normalizedOrigin, "https://"):
		scheme = "https"
	default:
		// "null" (or anything a caller failed to normalize first) never
		// matches a same-host request.
		return false
	}

	requestOriginHost, ok := canonicalAuthority(strings.TrimSpace(requestHost), scheme)
	if !ok {
		return false
	}
	return originHost == requestOriginHost
}

// canonicalAuthority lowercases hostname, drops a port matching scheme's
// default, and brackets IPv6 literals. Both a parsed Origin header and a
// raw request Host header pass through this so IsAllowed can compare them
// with a plain string equality check.
func canonicalAuthority(rawHost, scheme string) (string, bool) {
	rawHostname, rawPort, ok := splitHostPort(rawHost)
	if !ok {
		return "", false
	}

	hostname := strings.ToLower(rawHostname)
	if hostname == "" {
		return "", false
	}

	var port uint64
	if rawPort != "" {
		n, err := strconv.ParseUint(rawPort, 10, 16)
		if err != nil || n == 0 || n > 65535 {
			return "", false
		}
		port = n
	}
	if (scheme == "http" && port == 80) || (scheme == "https" && port == 443) {
		port = 0
	}

	host := hostname
	if strings.Contains(hostname, ":") {
		host = "[" + hostname + "]"
	}
	if port != 0 {
		host += ":" + strconv.FormatUint(port, 10)
	}
	return host, true
}

// splitHostPort splits an authority's host[:port] component, stripping
// brackets from an IPv6 literal hostname. The port is returned
// unvalidated and empty when absent.
func splitHostPort(rawHost string) (hostname, port string, ok bool) {
	if rawHost == "" {
		return "", "", false
	}

	if strings.HasPrefix(rawHost, "[") {
		end := strings.IndexByte(rawHost, ']')
		if end < 0 {
			return "", "", false
		}
		hostname = rawHost[1:end]
		rest := rawHost[end+1:]
		if rest == "" {
			return hostname, "", true
		}
		if !strings.HasPrefix(rest, ":") {
			return "", "", false
		}
		port = rest[1:]
		if port == "" {
			return "", "", false
		}
		return hostname, port, true
	}

	switch strings.Count(rawHost, ":") {
	case 0:
		return rawHost, "", true
	case 1:
		parts := strings.SplitN(rawHost, ":", 2)
		if parts[0] == "" || parts[1] == "" {
			return "", "", false
		}
		return parts[0], parts[1], true
	default:
		// Unbracketed IPv6 literals are not valid in an authority component.
		return "", "", false
	}
}
