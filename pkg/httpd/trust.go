package httpd

import (
	"net"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// resolveTTL bounds how long a server URL's resolved addresses are trusted
// without revalidation.
const resolveTTL = 60 * time.Second

type resolvedHost struct {
	ips     []net.IP
	expires time.Time
}

// Trust evaluates whether a peer address is allowed privileged routes. The
// trusted set is the union of the configured networks and the resolved
// addresses of every configured server URL; resolutions are cached for 60
// seconds and revalidated lazily.
type Trust struct {
	logger zerolog.Logger
	nets   []*net.IPNet

	mu    sync.Mutex
	cache map[string]resolvedHost
}

// NewTrust parses httpd-trust entries: plain IPs and CIDR networks.
// Unparseable entries are logged and skipped.
func NewTrust(entries []string, logger zerolog.Logger) *Trust {
	t := &Trust{
		logger: logger.With().Str("component", "httpd").Logger(),
		cache:  make(map[string]resolvedHost),
	}
	for _, entry := range entries {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		if _, ipnet, err := net.ParseCIDR(entry); err == nil {
			t.nets = append(t.nets, ipnet)
			continue
		}
		if ip := net.ParseIP(entry); ip != nil {
			bits := 32
			if ip.To4() == nil {
				bits = 128
			}
			t.nets = append(t.nets, &net.IPNet{IP: ip, Mask: net.CIDRMask(bits, bits)})
			continue
		}
		t.logger.Warn().Str("entry", entry).Msg("ignoring unparseable trust entry")
	}
	return t
}

// TrustedGlobally reports whether addr matches the configured trust networks.
func (t *Trust) TrustedGlobally(addr net.IP) bool {
	for _, ipnet := range t.nets {
		if ipnet.Contains(addr) {
			return true
		}
	}
	return false
}

// TrustedByServer reports whether addr is one of the resolved addresses of a
// server URL host.
func (t *Trust) TrustedByServer(addr net.IP, serverHost string) bool {
	for _, ip := range t.resolve(serverHost) {
		if ip.Equal(addr) {
			return true
		}
	}
	return false
}

// Trusted reports whether addr belongs to the union of the configured
// networks and the given server hosts.
func (t *Trust) Trusted(addr net.IP, serverHosts []string) bool {
	if t.TrustedGlobally(addr) {
		return true
	}
	for _, host := range serverHosts {
		if t.TrustedByServer(addr, host) {
			return true
		}
	}
	t.logger.Debug().Str("addr", addr.String()).Msg("peer not trusted")
	return false
}

func (t *Trust) resolve(host string) []net.IP {
	if ip := net.ParseIP(host); ip != nil {
		return []net.IP{ip}
	}

	t.mu.Lock()
	cached, ok := t.cache[host]
	t.mu.Unlock()
	if ok && time.Now().Before(cached.expires) {
		return cached.ips
	}

	ips, err := net.LookupIP(host)
	if err != nil {
		t.logger.Debug().Err(err).Str("host", host).Msg("trust resolution failed")
		ips = nil
	}
	t.mu.Lock()
	t.cache[host] = resolvedHost{ips: ips, expires: time.Now().Add(resolveTTL)}
	t.mu.Unlock()
	return ips
}

// peerIP extracts the bare IP from a request RemoteAddr.
func peerIP(remoteAddr string) net.IP {
	host, _, err := net.SplitHostPort(remoteAddr)
	if err != nil {
		host = remoteAddr
	}
	return net.ParseIP(host)
}
