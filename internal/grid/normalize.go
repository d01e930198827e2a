package grid

import (
	"net/url"
	"strings"
)

// Character set a grid token may contain once lowercased. Grid keys are
// DNS-ish names but must also admit forms like "localhost:9000/login".
const tokenAlphabet = "abcdefghijklmnopqrstuvwxyz1234567890-_.:/@% "

// StripScheme removes a leading "<scheme>://" prefix. Any scheme is
// stripped, not just http: resolution re-adds http or https downstream.
func StripScheme(uri string) string {
	if i := strings.Index(uri, "://"); i >= 0 {
		return uri[i+3:]
	}
	return uri
}

// TrimTrailingSlash removes trailing slashes, which show up in
// hand-edited grid files and pasted login URIs.
func TrimTrailingSlash(s string) string {
	return strings.TrimRight(s, "/")
}

// TrimHypergrid removes a hypergrid-style ":<region-name>" suffix. The
// text after the last colon is treated as a region name unless it is
// purely numeric-and-slash, in which case it is assumed to be a port.
// A region literally named "8080" is therefore kept as a port; the
// heuristic matches what grids in the wild send.
func TrimHypergrid(s string) (string, bool) {
	pos := strings.LastIndex(s, ":")
	if pos < 0 {
		return s, false
	}
	part := s[pos+1:]
	if part == "" {
		return s, false
	}
	if strings.IndexFunc(part, func(r rune) bool {
		return (r < '0' || r > '9') && r != '/'
	}) < 0 {
		return s, false
	}
	return s[:pos], true
}

// ValidToken reports whether the lowercased token contains only
// characters a grid identifier may carry. Tokens failing this check are
// rejected before any network activity.
func ValidToken(s string) bool {
	if s == "" {
		return false
	}
	s = strings.ToLower(s)
	for _, r := range s {
		if !strings.ContainsRune(tokenAlphabet, r) {
			return false
		}
	}
	return true
}

// EqualFold is the case-insensitive comparison used for label and
// nickname matching.
func EqualFold(a, b string) bool {
	return strings.EqualFold(a, b)
}

// Host returns the authority with any ":port" suffix removed.
func Host(authority string) string {
	if i := strings.LastIndex(authority, ":"); i >= 0 {
		port := authority[i+1:]
		if port != "" && strings.IndexFunc(port, func(r rune) bool {
			return r < '0' || r > '9'
		}) < 0 {
			return authority[:i]
		}
	}
	return authority
}

// TrustedOperatorHost reports whether authority belongs to the trusted
// operator's domain. Label-level matching only: a lookalike such as
// "lindenlab.com.evil.example.net" or "evil-lindenlab.com" must not
// pass.
func TrustedOperatorHost(authority string) bool {
	host := Host(strings.ToLower(authority))
	return host == TrustedOperatorDomain ||
		strings.HasSuffix(host, "."+TrustedOperatorDomain)
}

// Authority extracts the authority component (host or host:port) of a
// URI. A scheme-less input is treated as already being an authority plus
// optional path. Returns "" when nothing parseable is found.
func Authority(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}
	if !strings.Contains(raw, "://") {
		raw = "//" + raw
	}
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return ""
	}
	return strings.ToLower(u.Host)
}
