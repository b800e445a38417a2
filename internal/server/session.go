package server

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/krishna3006b/localhosted-tunnel-server/internal/registry"
	"github.com/krishna3006b/localhosted-tunnel-server/internal/subdomain"
	"github.com/krishna3006b/localhosted-tunnel-server/internal/tunnelproto"
)

const wsWriteTimeout = 10 * time.Second

var wsUpgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// wsChannel adapts a gorilla WebSocket connection to the registry's
// Channel interface. Writes are serialized by writeMu; a write failure
// marks the channel closed and tears the connection down.
type wsChannel struct {
	conn    *websocket.Conn
	writeMu sync.Mutex
	closed  atomic.Bool
}

func (c *wsChannel) WriteJSON(v any) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if c.closed.Load() {
		return websocket.ErrCloseSent
	}
	if err := c.conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout)); err != nil {
		c.teardown()
		return err
	}
	defer func() { _ = c.conn.SetWriteDeadline(time.Time{}) }()
	err := c.conn.WriteJSON(v)
	if err != nil {
		c.teardown()
	}
	return err
}

func (c *wsChannel) Close(code int, reason string) error {
	if !c.closed.CompareAndSwap(false, true) {
		return nil
	}
	deadline := time.Now().Add(wsWriteTimeout)
	_ = c.conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason), deadline)
	return c.conn.Close()
}

func (c *wsChannel) IsOpen() bool {
	return !c.closed.Load()
}

// teardown is called with writeMu held after a failed write.
func (c *wsChannel) teardown() {
	if c.closed.CompareAndSwap(false, true) {
		_ = c.conn.Close()
	}
}

// session is the per-connection state of one tunnel control channel.
type session struct {
	ch        *wsChannel
	hint      string
	localPort int
	tunnel    *registry.Tunnel
}

// handleTunnel upgrades /tunnel to a WebSocket and runs the session's
// read loop until the channel closes or errors.
func (s *Server) handleTunnel(w http.ResponseWriter, r *http.Request) {
	conn, err := wsUpgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Error("websocket upgrade failed", "err", err)
		return
	}
	conn.SetReadLimit(s.cfg.MaxFrameBytes)

	ch := &wsChannel{conn: conn}
	sess := &session{
		ch:        ch,
		hint:      r.Header.Get("X-Subdomain"),
		localPort: localPortHint(r.Header.Get("X-Local-Port")),
	}
	s.log.Info("tunnel channel connected", "remote", r.RemoteAddr)

	stop := make(chan struct{})
	go s.pingLoop(ch, stop)

	s.readLoop(sess)

	close(stop)
	s.registry.RemoveByChannel(ch)
	_ = ch.Close(registry.CloseNormal, "session ended")
	s.log.Info("tunnel channel disconnected", "remote", r.RemoteAddr)
}

func (s *Server) readLoop(sess *session) {
	for {
		_, data, err := sess.ch.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				s.log.Warn("tunnel read error", "err", err)
			}
			return
		}
		if sess.tunnel != nil {
			sess.tunnel.Touch(time.Now())
		}

		var msg tunnelproto.Message
		if err := json.Unmarshal(data, &msg); err != nil {
			s.log.Warn("malformed control frame", "err", err)
			_ = sess.ch.WriteJSON(tunnelproto.Message{Type: tunnelproto.TypeError, Message: "malformed JSON frame"})
			continue
		}

		switch msg.Type {
		case tunnelproto.TypeRegister:
			s.registerSession(sess, msg)
		case tunnelproto.TypeResponse:
			if len(msg.Data) == 0 {
				continue
			}
			resp, err := msg.DecodeResponse()
			if err != nil || resp.ID == "" {
				continue
			}
			s.registry.HandleResponse(sess.ch, resp)
		case tunnelproto.TypePong:
			// Liveness is implicit in the read itself.
		default:
			s.log.Debug("ignoring unknown frame", "type", msg.Type)
		}
	}
}

// registerSession resolves the subdomain label (message value, then
// header hint, then a generated one), registers the tunnel, and replies
// with a tunnel-ready frame.
func (s *Server) registerSession(sess *session, msg tunnelproto.Message) {
	label := strings.TrimSpace(msg.Subdomain)
	if label == "" {
		label = strings.TrimSpace(sess.hint)
	}
	label = subdomain.Sanitize(label)
	if label == "" {
		label = subdomain.Generate()
	}

	tn := s.registry.Register(label, sess.localPort, sess.ch)
	sess.tunnel = tn

	ready := tunnelproto.Message{
		Type:      tunnelproto.TypeTunnelReady,
		URL:       "https://" + label + "." + s.cfg.Domain,
		Subdomain: label,
		ID:        tn.ID(),
	}
	if err := sess.ch.WriteJSON(ready); err != nil {
		s.log.Warn("failed to send tunnel-ready", "subdomain", label, "err", err)
	}
}

// pingLoop emits a ping frame on the control channel at the configured
// interval until the session ends or a write fails.
func (s *Server) pingLoop(ch *wsChannel, stop <-chan struct{}) {
	ticker := time.NewTicker(s.cfg.PingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			if err := ch.WriteJSON(tunnelproto.Message{Type: tunnelproto.TypePing}); err != nil {
				return
			}
		}
	}
}

func localPortHint(v string) int {
	port, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil || port <= 0 || port > 65535 {
		return 3000
	}
	return port
}
