package ratelimit

import (
	"net"
	"net/http"
	"net/netip"
	"strings"
)

// KeyFunc devolve o identificador do cliente usado nas regras por IP.
type KeyFunc func(r *http.Request) string

// DefaultKeyFunc escolhe, nesta ordem: o header keyHeader (se configurado), o
// primeiro IP do X-Forwarded-For e o X-Real-IP (só se confiáveis) e o host do
// RemoteAddr.
func DefaultKeyFunc(keyHeader string, trustXFF, trustRealIP bool) KeyFunc {
	return func(r *http.Request) string {
		if keyHeader != "" {
			if v := strings.TrimSpace(r.Header.Get(keyHeader)); v != "" {
				return v
			}
		}

		if trustXFF {
			// primeiro IP do X-Forwarded-For (cliente original)
			if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
				first, _, _ := strings.Cut(xff, ",")
				if ip, ok := parseIP(first); ok {
					return ip
				}
			}
		}
		if trustRealIP {
			if ip, ok := parseIP(r.Header.Get("X-Real-IP")); ok {
				return ip
			}
		}

		host, _, err := net.SplitHostPort(strings.TrimSpace(r.RemoteAddr))
		if err == nil && host != "" {
			return host
		}
		if r.RemoteAddr != "" {
			return r.RemoteAddr
		}
		return "unknown"
	}
}

// parseIP normaliza o endereço e descarta valores que não são IP.
func parseIP(s string) (string, bool) {
	addr, err := netip.ParseAddr(strings.TrimSpace(s))
	if err != nil {
		return "", false
	}
	return addr.Unmap().String(), true
}
