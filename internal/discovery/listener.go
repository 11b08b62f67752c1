// ABOUTME: UDP discovery listener answering agent hello broadcasts with offers
// ABOUTME: Issues pending registration tokens and sweeps expired ones

package discovery

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/Baron-Systems/fb/internal/registry"
)

// DefaultPort is the well-known broadcast port agents hello on.
const DefaultPort = 7355

// readTimeout bounds each blocking receive so the token sweep runs even
// when no datagrams arrive.
const readTimeout = 500 * time.Millisecond

// hello is the broadcast payload agents send while looking for a controller.
type hello struct {
	Type    string `json:"type"`
	AgentID string `json:"agent_id"`
	Port    int    `json:"port"`
}

// offer is the reply inviting the agent to register over HTTP.
type offer struct {
	Type         string `json:"type"`
	DashboardURL string `json:"dashboard_url"`
	Token        string `json:"token"`
	ExpiresIn    int    `json:"expires_in"`
}

// Listener receives agent hello broadcasts and replies with registration
// offers. It is the sole issuer of pending tokens.
type Listener struct {
	registry      *registry.Registry
	port          int
	dashboardPort int
	logger        *slog.Logger

	conn *net.UDPConn

	mu     sync.Mutex
	done   chan struct{}
	closed bool
}

// New creates a discovery listener. port is the UDP port to receive hellos
// on (0 binds an ephemeral port); dashboardPort is advertised in offers so
// agents know where to register.
func New(reg *registry.Registry, port, dashboardPort int) *Listener {
	return &Listener{
		registry:      reg,
		port:          port,
		dashboardPort: dashboardPort,
		logger:        slog.Default().With("component", "discovery"),
		done:          make(chan struct{}),
	}
}

// Start binds the UDP socket and launches the receive loop.
func (l *Listener) Start() error {
	addr := &net.UDPAddr{IP: net.IPv4zero, Port: l.port}
	conn, err := net.ListenUDP("udp4", addr)
	if err != nil {
		return fmt.Errorf("binding discovery socket on port %d: %w", l.port, err)
	}
	l.conn = conn

	go l.loop()
	l.logger.Info("discovery listener started", "port", l.port)
	return nil
}

// LocalPort reports the bound UDP port. Useful when started on port 0.
func (l *Listener) LocalPort() int {
	if l.conn == nil {
		return 0
	}
	return l.conn.LocalAddr().(*net.UDPAddr).Port
}

// Close stops the receive loop and releases the socket.
// Safe to call multiple times.
func (l *Listener) Close() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return
	}
	l.closed = true
	close(l.done)
	if l.conn != nil {
		_ = l.conn.Close()
	}
}

// loop receives datagrams until Close. Each read is bounded by readTimeout;
// timeouts double as the sweep tick for expired tokens.
func (l *Listener) loop() {
	buf := make([]byte, 64*1024)
	for {
		select {
		case <-l.done:
			return
		default:
		}

		_ = l.conn.SetReadDeadline(time.Now().Add(readTimeout))
		n, peer, err := l.conn.ReadFromUDP(buf)
		if err != nil {
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				l.registry.Sweep()
				continue
			}
			select {
			case <-l.done:
				return
			default:
				l.logger.Debug("discovery read error", "error", err)
				continue
			}
		}

		l.handleDatagram(buf[:n], peer)
	}
}

// handleDatagram validates one hello and replies with an offer. Malformed
// payloads are dropped without a response: discovery is advisory and the
// broadcast medium is noisy.
func (l *Listener) handleDatagram(data []byte, peer *net.UDPAddr) {
	agentID, agentPort, ok := parseHello(data)
	if !ok {
		return
	}

	sourceIP := peer.IP.String()
	token := l.registry.Issue(agentID, sourceIP)

	dashIP := localIPForPeer(peer)
	reply := offer{
		Type:         "dashboard.offer",
		DashboardURL: fmt.Sprintf("http://%s:%d", dashIP, l.dashboardPort),
		Token:        token,
		ExpiresIn:    int(registry.TokenTTL.Seconds()),
	}

	payload, err := json.Marshal(reply)
	if err != nil {
		l.logger.Error("marshaling discovery offer", "error", err)
		return
	}
	// Reply to the same socket/port the agent broadcast from. Agents that
	// aren't listening for direct replies will simply rebroadcast.
	if _, err := l.conn.WriteToUDP(payload, peer); err != nil {
		l.logger.Debug("sending discovery offer", "peer", peer.String(), "error", err)
		return
	}

	l.logger.Info("answered agent hello", "agent_id", agentID, "peer", peer.String(), "agent_port", agentPort)
}

// parseHello validates a discovery datagram. Returns ok=false for anything
// that is not a well-formed agent hello.
func parseHello(data []byte) (agentID string, port int, ok bool) {
	var h hello
	if err := json.Unmarshal(data, &h); err != nil {
		return "", 0, false
	}
	if h.Type != "agent.hello" {
		return "", 0, false
	}
	if h.AgentID == "" || h.Port <= 0 || h.Port > 65535 {
		return "", 0, false
	}
	return h.AgentID, h.Port, true
}

// localIPForPeer determines which local address routes toward the peer by
// opening a transient UDP socket at it and reading back the chosen source.
// Handles multi-homed hosts; falls back to loopback when the peer is
// unroutable, in which case registration fails downstream instead of here.
func localIPForPeer(peer *net.UDPAddr) string {
	conn, err := net.DialUDP("udp4", nil, peer)
	if err != nil {
		return "127.0.0.1"
	}
	defer conn.Close()
	if host, _, err := net.SplitHostPort(conn.LocalAddr().String()); err == nil {
		return host
	}
	return "127.0.0.1"
}
