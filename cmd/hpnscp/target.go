package main

import (
	"net/url"
	"strings"
)

// target is one parsed command-line operand: a local path, a
// [user@]host:path remote, or a direct quic://host:port/path or
// ws://host:port/path peer.
type target struct {
	scheme string // "" for local and subprocess remotes
	user   string
	host   string
	path   string
	remote bool
}

// parseTarget splits an operand. A colon marks a remote operand only
// when it appears before any slash, so relative paths containing colons
// deeper in the name stay local; [bracketed] IPv6 hosts are honoured.
func parseTarget(s string) target {
	for _, scheme := range []string{"quic", "ws", "wss"} {
		if strings.HasPrefix(s, scheme+"://") {
			if u, err := url.Parse(s); err == nil {
				path := strings.TrimPrefix(u.Path, "/")
				if path == "" {
					path = "."
				}
				return target{scheme: scheme, host: u.Host, path: path, remote: true}
			}
		}
	}

	rest := s
	var user string
	if i := strings.IndexByte(rest, '@'); i >= 0 {
		if j := colonIndex(rest[i+1:]); j >= 0 {
			user = rest[:i]
			rest = rest[i+1:]
		}
	}

	ci := colonIndex(rest)
	if ci < 0 {
		return target{path: s}
	}
	host := rest[:ci]
	path := rest[ci+1:]
	if strings.HasPrefix(host, "[") && strings.HasSuffix(host, "]") {
		host = host[1 : len(host)-1]
	}
	if path == "" {
		path = "."
	}
	return target{user: user, host: host, path: path, remote: true}
}

// colonIndex finds the host/path separator: the first colon before any
// slash, skipping a bracketed IPv6 literal.
func colonIndex(s string) int {
	i := 0
	if strings.HasPrefix(s, "[") {
		end := strings.IndexByte(s, ']')
		if end < 0 {
			return -1
		}
		i = end + 1
		if i >= len(s) || s[i] != ':' {
			return -1
		}
		return i
	}
	for ; i < len(s); i++ {
		switch s[i] {
		case ':':
			return i
		case '/':
			return -1
		}
	}
	return -1
}
