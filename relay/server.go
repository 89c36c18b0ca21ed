// Package relay bridges a site-scoped MQTT subscription on the management
// platform's broker into a single local WebSocket client. The two sides of
// the bridge are fate-shared: whichever closes first tears down the other.
package relay

import (
	"log/slog"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
)

// Server exposes the local WebSocket endpoint the browser connects to. It
// holds exactly one connection slot: a new connection replaces the previous
// reference, which is left to its own transport lifecycle. Messages sent
// while no client is connected are dropped; there is no queueing or replay.
type Server struct {
	upgrader websocket.Upgrader
	logger   *slog.Logger

	mu      sync.Mutex
	conn    *websocket.Conn
	onClose func()
}

// NewServer constructs the server. Origin checks are disabled: the endpoint
// binds to a local development port and forwards telemetry the browser
// already has credentials to request.
func NewServer(logger *slog.Logger) *Server {
	return &Server{
		upgrader: websocket.Upgrader{
			CheckOrigin: func(*http.Request) bool { return true },
		},
		logger: logger,
	}
}

// ServeHTTP upgrades the request and installs the connection as the current
// sink.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error("websocket upgrade failed", "error", err)
		return
	}

	s.mu.Lock()
	s.conn = conn
	s.mu.Unlock()
	s.logger.Info("websocket client connected", "remote", conn.RemoteAddr().String())

	go s.readLoop(conn)
}

// readLoop discards inbound frames and watches for the connection to die.
// Only the connection that is still the current sink reports a close; a
// superseded one exits silently.
func (s *Server) readLoop(conn *websocket.Conn) {
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}

	s.mu.Lock()
	current := s.conn == conn
	var notify func()
	if current {
		s.conn = nil
		notify = s.onClose
	}
	s.mu.Unlock()

	_ = conn.Close()
	if current {
		s.logger.Info("websocket client disconnected")
		if notify != nil {
			notify()
		}
	}
}

// OnClose registers the hook invoked when the current client goes away.
// The relay session uses it to drop its broker subscription. Replaces any
// previous hook; the bridge has a single consumer.
func (s *Server) OnClose(fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onClose = fn
}

// Send forwards text to the current client. A send with no client connected
// is a silent no-op.
func (s *Server) Send(text string) error {
	s.mu.Lock()
	conn := s.conn
	s.mu.Unlock()
	if conn == nil {
		return nil
	}
	return conn.WriteMessage(websocket.TextMessage, []byte(text))
}

// Close shuts the current client connection, if any.
func (s *Server) Close() error {
	s.mu.Lock()
	conn := s.conn
	s.conn = nil
	s.mu.Unlock()
	if conn == nil {
		return nil
	}
	return conn.Close()
}
