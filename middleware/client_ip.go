package middleware

import (
	"net"
	"net/http"

	"github.com/MrEthical07/guardian"
)

// ClientIP stores the host part of r.RemoteAddr in the request context.
// Mount it after any proxy-header middleware that rewrites RemoteAddr.
func ClientIP(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		next.ServeHTTP(w, r.WithContext(guardian.WithClientIP(r.Context(), RemoteHost(r))))
	})
}

// RemoteHost returns r.RemoteAddr without its port.
func RemoteHost(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
