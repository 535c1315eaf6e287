package api

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/marqueehq/marquee-core/internal/fleet"
	"github.com/marqueehq/marquee-core/internal/protocol"
)

// channelWriteTimeout bounds a single frame write to a device.
const channelWriteTimeout = 10 * time.Second

// upgrader configures the WebSocket upgrader for the device channel.
var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(_ *http.Request) bool {
		// Devices are not browsers; origin checks don't apply
		return true
	},
}

// channelTransport adapts a WebSocket connection to the registry's
// transport contract. Writes are serialised: the registry, the queue
// drain, and the keepalive ticker all send through here.
type channelTransport struct {
	conn    *websocket.Conn
	writeMu sync.Mutex
	done    chan struct{}
	once    sync.Once
}

func newChannelTransport(conn *websocket.Conn) *channelTransport {
	return &channelTransport{
		conn: conn,
		done: make(chan struct{}),
	}
}

// Send writes a single text frame to the device.
func (t *channelTransport) Send(data []byte) error {
	t.writeMu.Lock()
	defer t.writeMu.Unlock()

	//nolint:errcheck // Best-effort deadline; write error caught below
	t.conn.SetWriteDeadline(time.Now().Add(channelWriteTimeout))
	return t.conn.WriteMessage(websocket.TextMessage, data)
}

// Close tears the connection down. Safe to call more than once: the
// registry closes replaced transports and the read pump closes on exit.
func (t *channelTransport) Close() error {
	t.once.Do(func() {
		close(t.done)
		t.writeMu.Lock()
		//nolint:errcheck // Best-effort close message
		t.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		t.writeMu.Unlock()
		t.conn.Close()
	})
	return nil
}

// sendControl writes a small JSON frame (pong, error) outside the command path.
func (t *channelTransport) sendControl(v any) {
	data, err := json.Marshal(v)
	if err != nil {
		return
	}
	//nolint:errcheck // Best-effort control frame; read pump notices dead conns
	t.Send(data)
}

// handleChannel upgrades the connection to the persistent device channel.
//
// The device must authenticate with a hello frame within the hello timeout.
// Unknown device and wrong secret close the connection identically, so the
// channel cannot be used to probe for valid device IDs.
func (s *Server) handleChannel(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error("channel upgrade failed", "error", err)
		return
	}

	conn.SetReadLimit(int64(s.chanCfg.MaxMessageSize))

	// The hello frame must arrive promptly or the slot is reclaimed
	helloWait := time.Duration(s.chanCfg.HelloTimeout) * time.Second
	//nolint:errcheck // Best-effort deadline on connection setup
	conn.SetReadDeadline(time.Now().Add(helloWait))

	_, data, err := conn.ReadMessage()
	if err != nil {
		conn.Close()
		return
	}

	frame, err := protocol.Validate(data, s.chanCfg.MaxMessageSize)
	if err != nil || frame.Kind != protocol.KindHello {
		s.closeChannel(conn, websocket.ClosePolicyViolation, "hello frame required")
		return
	}

	dev, err := s.devices.VerifyCredentials(r.Context(), frame.Hello.DeviceID, frame.Hello.Secret)
	if err != nil {
		// Unknown and invalid collapse to one message deliberately
		s.closeChannel(conn, websocket.ClosePolicyViolation, "authentication failed")
		return
	}

	transport := newChannelTransport(conn)
	s.registry.Add(dev.ID, transport)
	s.logger.Info("device channel opened", "device_id", dev.ID)

	// Deliver anything queued while the device was offline
	s.deliverQueued(dev.ID, transport)

	go s.channelKeepalive(transport)
	s.channelReadPump(dev.ID, conn, transport)
}

// deliverQueued drains the device's offline queue down the transport.
// If a send fails mid-drain the failing command and everything after it
// go back into the queue in their original order; a drain may be cut
// short by a dying connection but must never lose commands.
func (s *Server) deliverQueued(deviceID string, transport fleet.Transport) {
	if s.queue == nil {
		return
	}

	pending := s.queue.Drain(deviceID)
	for i := range pending {
		payload, marshalErr := pending[i].Marshal()
		if marshalErr != nil {
			continue
		}
		if sendErr := transport.Send(payload); sendErr != nil {
			for _, cmd := range pending[i:] {
				s.queue.Enqueue(deviceID, cmd)
			}
			s.logger.Warn("queue drain interrupted, commands requeued",
				"device_id", deviceID,
				"requeued", len(pending)-i,
			)
			return
		}
	}
}

// channelReadPump reads frames from the device until the connection drops.
// It owns connection teardown: registry eviction and rate-limiter cleanup.
func (s *Server) channelReadPump(deviceID string, conn *websocket.Conn, transport *channelTransport) {
	defer func() {
		removed := s.registry.Remove(deviceID, transport)
		transport.Close()
		if !removed {
			// Evicted by a replacement connection: the rate window and
			// the closed log belong to the pump that is still live
			return
		}
		if s.limiter != nil {
			s.limiter.Forget(deviceID)
		}
		s.logger.Info("device channel closed", "device_id", deviceID)
	}()

	pingInterval := time.Duration(s.chanCfg.PingInterval) * time.Second
	pongWait := time.Duration(s.chanCfg.PongTimeout) * time.Second
	readWait := pingInterval + pongWait

	//nolint:errcheck // Best-effort deadline; read error caught in loop
	conn.SetReadDeadline(time.Now().Add(readWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(readWait))
	})

	consecutiveViolations := 0

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.logger.Warn("channel read error", "device_id", deviceID, "error", err)
			}
			return
		}
		//nolint:errcheck // Best-effort deadline reset
		conn.SetReadDeadline(time.Now().Add(readWait))

		if s.limiter != nil && !s.limiter.Allow(deviceID) {
			consecutiveViolations++
			s.logger.Warn("channel frame rate limited",
				"device_id", deviceID,
				"violations", s.limiter.Violations(deviceID),
			)
			if s.rlCfg.MaxViolations > 0 && consecutiveViolations >= s.rlCfg.MaxViolations {
				s.logger.Warn("closing flooding channel", "device_id", deviceID)
				return
			}
			transport.sendControl(map[string]string{"kind": "error", "error": "rate_limited"})
			continue
		}
		consecutiveViolations = 0

		frame, err := protocol.Validate(data, s.chanCfg.MaxMessageSize)
		if err != nil {
			transport.sendControl(map[string]string{"kind": "error", "error": "malformed_frame"})
			continue
		}

		switch frame.Kind {
		case protocol.KindAck:
			s.registry.HandleAck(deviceID, frame.Ack)
		case protocol.KindPing:
			// Application-level ping doubles as a liveness report
			if touchErr := s.devices.TouchLastSeen(context.Background(), deviceID); touchErr != nil {
				s.logger.Debug("last seen update failed", "device_id", deviceID, "error", touchErr)
			}
			transport.sendControl(map[string]any{"kind": "pong", "timestamp": time.Now().UnixMilli()})
		case protocol.KindHello:
			// Already authenticated; a second hello is a protocol error
			transport.sendControl(map[string]string{"kind": "error", "error": "already_authenticated"})
		}
	}
}

// channelKeepalive sends protocol-level pings until the transport closes.
func (s *Server) channelKeepalive(transport *channelTransport) {
	pingInterval := time.Duration(s.chanCfg.PingInterval) * time.Second
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-transport.done:
			return
		case <-ticker.C:
			transport.writeMu.Lock()
			err := transport.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(channelWriteTimeout))
			transport.writeMu.Unlock()
			if err != nil {
				return
			}
		}
	}
}

// closeChannel rejects a half-open connection with a close frame.
func (s *Server) closeChannel(conn *websocket.Conn, code int, reason string) {
	//nolint:errcheck // Best-effort close message
	conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(code, reason),
		time.Now().Add(time.Second))
	conn.Close()
}
