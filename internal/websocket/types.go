package websocket

import (
	"net"
	"net/http"
	"net/netip"
	"strings"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/conneroisu/asyncview/internal/validation"
)

// Message types sent to the browser.
const (
	MessageRender  = "render"
	MessageError   = "error"
	MessageRemoved = "removed"
)

// UpdateMessage represents a message sent to the browser
type UpdateMessage struct {
	Type      string    `json:"type"`
	Target    string    `json:"target,omitempty"`
	Content   string    `json:"content,omitempty"`
	Error     string    `json:"error,omitempty"`
	State     string    `json:"state,omitempty"`
	Sequence  uint64    `json:"sequence,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Client represents a WebSocket client connection
type Client struct {
	conn *websocket.Conn
	send chan []byte
	ip   string
}

// OriginValidator interface for WebSocket origin validation
type OriginValidator interface {
	IsAllowedOrigin(origin string, r *http.Request) bool
}

// AllowedOrigins accepts same-host origins plus an explicit allowlist of
// origins or hosts.
type AllowedOrigins []string

// IsAllowedOrigin implements OriginValidator.
func (a AllowedOrigins) IsAllowedOrigin(origin string, r *http.Request) bool {
	allowed := append([]string{r.Host}, a...)
	return validation.ValidateOrigin(origin, allowed) == nil
}

// ipTracker limits concurrent connections per client IP.
type ipTracker struct {
	mutex sync.Mutex
	max   int
	count map[string]int
}

func newIPTracker(max int) *ipTracker {
	return &ipTracker{max: max, count: make(map[string]int)}
}

// acquire reserves a slot for ip, reporting false when the limit is reached.
func (t *ipTracker) acquire(ip string) bool {
	t.mutex.Lock()
	defer t.mutex.Unlock()
	if t.max > 0 && t.count[ip] >= t.max {
		return false
	}
	t.count[ip]++
	return true
}

func (t *ipTracker) release(ip string) {
	t.mutex.Lock()
	defer t.mutex.Unlock()
	t.count[ip]--
	if t.count[ip] <= 0 {
		delete(t.count, ip)
	}
}

// TrustedProxies lists the peers whose forwarding headers are believed.
type TrustedProxies []netip.Prefix

// ParseTrustedProxies parses IP addresses and CIDR ranges.
func ParseTrustedProxies(entries []string) (TrustedProxies, error) {
	proxies := make(TrustedProxies, 0, len(entries))
	for _, entry := range entries {
		prefix, err := validation.ParseProxy(entry)
		if err != nil {
			return nil, err
		}
		proxies = append(proxies, prefix)
	}
	return proxies, nil
}

func (t TrustedProxies) contains(ip string) bool {
	addr, err := netip.ParseAddr(ip)
	if err != nil {
		return false
	}
	addr = addr.Unmap()
	for _, prefix := range t {
		if prefix.Contains(addr) {
			return true
		}
	}
	return false
}

// clientIP returns the peer address. Forwarding headers are only honoured
// when the peer is a trusted proxy.
func clientIP(r *http.Request, trusted TrustedProxies) string {
	peer := r.RemoteAddr
	if host, _, err := net.SplitHostPort(peer); err == nil {
		peer = host
	}
	if !trusted.contains(peer) {
		return peer
	}

	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		if commaIdx := strings.Index(xff, ","); commaIdx > 0 {
			return strings.TrimSpace(xff[:commaIdx])
		}
		return strings.TrimSpace(xff)
	}

	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return strings.TrimSpace(xri)
	}

	return peer
}
