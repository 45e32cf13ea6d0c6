package registry

import (
	"net"
	"net/url"
	"strings"
)

const (
	// REST endpoints consumed by providers and the relay client.
	AcrossBaseURL = "https://app.across.to/api"
	SocketBaseURL = "https://api.socket.tech/v2"
	RelayBaseURL  = "https://relay.gelato.digital"
)

// IsAllowedEndpoint accepts https URLs and plain http on loopback hosts, which
// is what local test servers and self-hosted relays use.
func IsAllowedEndpoint(endpoint string) bool {
	parsed, err := url.Parse(strings.TrimSpace(endpoint))
	if err != nil {
		return false
	}
	if strings.TrimSpace(parsed.Hostname()) == "" {
		return false
	}
	scheme := strings.ToLower(strings.TrimSpace(parsed.Scheme))
	if isLoopbackHost(parsed.Hostname()) {
		return scheme == "http" || scheme == "https"
	}
	return scheme == "https"
}

func isLoopbackHost(host string) bool {
	h := strings.TrimSpace(strings.ToLower(host))
	if h == "localhost" {
		return true
	}
	ip := net.ParseIP(h)
	return ip != nil && ip.IsLoopback()
}
