// Package client implements the tunnel client: it keeps a control
// channel to the relay and serves forwarded requests from a local HTTP
// server.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/jpillora/backoff"

	"github.com/krishna3006b/localhosted-tunnel-server/internal/config"
	"github.com/krishna3006b/localhosted-tunnel-server/internal/tunnelproto"
)

// Client dials the relay's /tunnel endpoint, registers a subdomain, and
// answers forwarded request frames against 127.0.0.1:{LocalPort}.
type Client struct {
	cfg   config.ClientConfig
	log   *slog.Logger
	httpc *http.Client
}

// New creates a tunnel client.
func New(cfg config.ClientConfig, logger *slog.Logger) *Client {
	return &Client{
		cfg: cfg,
		log: logger,
		httpc: &http.Client{
			Timeout: 30 * time.Second,
			CheckRedirect: func(*http.Request, []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
	}
}

// Run maintains the control channel until ctx is canceled, reconnecting
// with jittered exponential backoff after failures.
func (c *Client) Run(ctx context.Context) error {
	b := &backoff.Backoff{
		Min:    time.Second,
		Max:    30 * time.Second,
		Factor: 2,
		Jitter: true,
	}

	for {
		err := c.runSession(ctx)
		if ctx.Err() != nil {
			return nil
		}
		d := b.Duration()
		c.log.Warn("tunnel session ended, reconnecting", "err", err, "retry_in", d)
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(d):
		}
	}
}

// runSession dials, registers, and serves frames until the channel drops.
func (c *Client) runSession(ctx context.Context) error {
	wsURL, err := tunnelURL(c.cfg.ServerURL)
	if err != nil {
		return err
	}

	header := http.Header{}
	if c.cfg.Subdomain != "" {
		header.Set("X-Subdomain", c.cfg.Subdomain)
	}
	header.Set("X-Local-Port", strconv.Itoa(c.cfg.LocalPort))

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, wsURL, header)
	if err != nil {
		return fmt.Errorf("dial %s: %w", wsURL, err)
	}
	defer func() { _ = conn.Close() }()

	sess := &clientSession{conn: conn}
	if err := sess.writeJSON(tunnelproto.Message{
		Type:      tunnelproto.TypeRegister,
		Subdomain: c.cfg.Subdomain,
	}); err != nil {
		return fmt.Errorf("register: %w", err)
	}

	// Unblock the read loop when the caller cancels.
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "client shutting down"),
				time.Now().Add(time.Second))
			_ = conn.Close()
		case <-done:
		}
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		var msg tunnelproto.Message
		if err := json.Unmarshal(data, &msg); err != nil {
			c.log.Warn("malformed frame from relay", "err", err)
			continue
		}

		switch msg.Type {
		case tunnelproto.TypeTunnelReady:
			c.log.Info("tunnel ready", "url", msg.URL, "subdomain", msg.Subdomain, "tunnel_id", msg.ID)
		case tunnelproto.TypeRequest:
			req, err := msg.DecodeRequest()
			if err != nil {
				c.log.Warn("malformed request frame", "err", err)
				continue
			}
			go c.serveRequest(sess, req)
		case tunnelproto.TypePing:
			_ = sess.writeJSON(tunnelproto.Message{Type: tunnelproto.TypePong})
		case tunnelproto.TypeError:
			c.log.Warn("relay error", "message", msg.Message)
		}
	}
}

// serveRequest replays one forwarded request against the local server
// and sends the framed response back on the control channel.
func (c *Client) serveRequest(sess *clientSession, req *tunnelproto.Request) {
	resp := c.doLocal(req)
	msg, err := tunnelproto.NewResponseMessage(resp)
	if err != nil {
		c.log.Error("failed to frame response", "request_id", req.ID, "err", err)
		return
	}
	if err := sess.writeJSON(msg); err != nil {
		c.log.Warn("failed to send response frame", "request_id", req.ID, "err", err)
	}
}

func (c *Client) doLocal(req *tunnelproto.Request) *tunnelproto.Response {
	body, err := tunnelproto.DecodeBody(req.Body)
	if err != nil {
		return errorResponse(req.ID, http.StatusBadGateway, "invalid request body encoding")
	}

	target := fmt.Sprintf("http://127.0.0.1:%d%s", c.cfg.LocalPort, req.Path)
	httpReq, err := http.NewRequest(req.Method, target, bytes.NewReader(body))
	if err != nil {
		return errorResponse(req.ID, http.StatusBadGateway, "invalid forwarded request")
	}
	for name, value := range req.Headers {
		if strings.EqualFold(name, "Host") {
			httpReq.Host = value
			continue
		}
		httpReq.Header.Set(name, value)
	}

	httpResp, err := c.httpc.Do(httpReq)
	if err != nil {
		c.log.Warn("local server unreachable", "target", target, "err", err)
		return errorResponse(req.ID, http.StatusBadGateway, "local server unreachable")
	}
	defer func() { _ = httpResp.Body.Close() }()

	respBody, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return errorResponse(req.ID, http.StatusBadGateway, "failed to read local response")
	}

	return &tunnelproto.Response{
		ID:         req.ID,
		StatusCode: httpResp.StatusCode,
		Headers:    tunnelproto.FlattenHeaders(httpResp.Header),
		Body:       tunnelproto.EncodeBody(respBody),
	}
}

func errorResponse(id string, status int, message string) *tunnelproto.Response {
	return &tunnelproto.Response{
		ID:         id,
		StatusCode: status,
		Headers:    map[string]string{"Content-Type": "text/plain; charset=utf-8"},
		Body:       tunnelproto.EncodeBody([]byte(message)),
	}
}

// clientSession serializes writes to the control channel; responses are
// produced concurrently but the socket takes one writer at a time.
type clientSession struct {
	conn    *websocket.Conn
	writeMu sync.Mutex
}

func (s *clientSession) writeJSON(v any) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if err := s.conn.SetWriteDeadline(time.Now().Add(10 * time.Second)); err != nil {
		return err
	}
	defer func() { _ = s.conn.SetWriteDeadline(time.Time{}) }()
	return s.conn.WriteJSON(v)
}

// tunnelURL converts the relay's public URL into the /tunnel WebSocket URL.
func tunnelURL(serverURL string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(serverURL))
	if err != nil {
		return "", fmt.Errorf("invalid server URL: %w", err)
	}
	switch u.Scheme {
	case "https", "wss":
		u.Scheme = "wss"
	case "http", "ws":
		u.Scheme = "ws"
	default:
		return "", fmt.Errorf("unsupported server URL scheme %q", u.Scheme)
	}
	u.Path = "/tunnel"
	u.RawQuery = ""
	return u.String(), nil
}
