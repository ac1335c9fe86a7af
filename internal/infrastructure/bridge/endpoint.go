package bridge

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
)

// Endpoints derives the socket and health-probe URLs from the bridge
// server origin. The socket scheme is promoted to the secure variant
// when the origin itself is secure; the socket path is fixed at /ws and
// the health endpoint at /api/health.
func Endpoints(origin string) (wsURL, healthURL string, err error) {
	origin = strings.TrimSpace(origin)
	if origin == "" {
		return "", "", errors.New("bridge origin empty")
	}

	u, err := url.Parse(origin)
	if err != nil {
		return "", "", fmt.Errorf("parse bridge origin: %w", err)
	}
	if u.Host == "" {
		return "", "", fmt.Errorf("bridge origin %q has no host", origin)
	}

	ws := *u
	health := *u
	switch u.Scheme {
	case "http", "ws":
		ws.Scheme = "ws"
		health.Scheme = "http"
	case "https", "wss":
		ws.Scheme = "wss"
		health.Scheme = "https"
	default:
		return "", "", fmt.Errorf("bridge origin scheme %q unsupported", u.Scheme)
	}

	ws.Path = "/ws"
	ws.RawQuery = ""
	health.Path = "/api/health"
	health.RawQuery = ""
	return ws.String(), health.String(), nil
}
