package common

import (
	"net"
	"net/http"
	"strings"
)

// ClientIP returns the host part of r.RemoteAddr. Behind a proxy the router
// runs chi's middleware.RealIP first, which rewrites RemoteAddr from
// True-Client-IP, X-Real-IP or X-Forwarded-For, so forwarding headers are not
// read again here.
func ClientIP(r *http.Request) string {
	if r == nil {
		return ""
	}
	addr := strings.TrimSpace(r.RemoteAddr)
	if host, _, err := net.SplitHostPort(addr); err == nil {
		return host
	}
	return addr
}
