package server

import (
	"errors"
	"io"
	"net"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"
	"github.com/google/uuid"

	"github.com/krishna3006b/localhosted-tunnel-server/internal/netutil"
	"github.com/krishna3006b/localhosted-tunnel-server/internal/registry"
	"github.com/krishna3006b/localhosted-tunnel-server/internal/tunnelproto"
)

type errorPayload struct {
	Error     string `json:"error"`
	Subdomain string `json:"subdomain,omitempty"`
	Message   string `json:"message,omitempty"`
}

// handlePathTunnel serves /t/{subdomain}/{rest...}: the prefix is
// stripped and the rest (plus original query) becomes the forwarded path.
func (s *Server) handlePathTunnel(w http.ResponseWriter, r *http.Request) {
	sub := chi.URLParam(r, "subdomain")
	if sub == "" {
		s.handleMissingSubdomain(w, r)
		return
	}
	path := "/" + chi.URLParam(r, "*")
	if r.URL.RawQuery != "" {
		path += "?" + r.URL.RawQuery
	}
	s.proxyTunnel(w, r, sub, path)
}

func (s *Server) handleMissingSubdomain(w http.ResponseWriter, r *http.Request) {
	render.Status(r, http.StatusBadRequest)
	render.JSON(w, r, errorPayload{Error: "Bad Request", Message: "missing subdomain in path"})
}

// proxyTunnel is the common adapter flow: buffer the body, frame the
// request, forward it across the tunnel, and write the correlated
// response back to the public caller.
func (s *Server) proxyTunnel(w http.ResponseWriter, r *http.Request, sub, forwardPath string) {
	if s.registry.Get(sub) == nil {
		render.Status(r, http.StatusBadGateway)
		render.JSON(w, r, errorPayload{
			Error:     "Tunnel Not Found",
			Subdomain: sub,
			Message:   "no tunnel is registered for this subdomain",
		})
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, s.cfg.MaxFrameBytes))
	if err != nil {
		render.Status(r, http.StatusBadRequest)
		render.JSON(w, r, errorPayload{Error: "Bad Request", Subdomain: sub, Message: "failed to read request body"})
		return
	}

	headers := tunnelproto.FlattenHeaders(r.Header)
	if headers == nil {
		headers = map[string]string{}
	}
	injectForwardedFor(headers, r.RemoteAddr)
	injectForwardedProxyHeaders(headers, r)

	req := &tunnelproto.Request{
		ID:      uuid.NewString(),
		Method:  r.Method,
		Path:    forwardPath,
		Headers: headers,
		Body:    tunnelproto.EncodeBody(body),
	}

	resp, err := s.registry.Forward(sub, req, s.cfg.RequestTimeout)
	if err != nil {
		s.writeForwardError(w, r, sub, err)
		return
	}
	s.writeTunnelResponse(w, r, sub, resp)
}

func (s *Server) writeForwardError(w http.ResponseWriter, r *http.Request, sub string, err error) {
	switch {
	case errors.Is(err, registry.ErrTunnelNotFound):
		render.Status(r, http.StatusBadGateway)
		render.JSON(w, r, errorPayload{
			Error:     "Tunnel Not Found",
			Subdomain: sub,
			Message:   "no tunnel is registered for this subdomain",
		})
	case errors.Is(err, registry.ErrRequestTimeout):
		s.log.Warn("tunnel request timed out", "subdomain", sub)
		render.Status(r, http.StatusGatewayTimeout)
		render.JSON(w, r, errorPayload{
			Error:     "Gateway Timeout",
			Subdomain: sub,
			Message:   "tunnel did not respond within the deadline",
		})
	default:
		s.log.Warn("tunnel forward failed", "subdomain", sub, "err", err)
		render.Status(r, http.StatusBadGateway)
		render.JSON(w, r, errorPayload{
			Error:     "Bad Gateway",
			Subdomain: sub,
			Message:   err.Error(),
		})
	}
}

func (s *Server) writeTunnelResponse(w http.ResponseWriter, r *http.Request, sub string, resp *tunnelproto.Response) {
	if resp.StatusCode < 100 || resp.StatusCode > 599 {
		s.log.Warn("tunnel response carried invalid status", "subdomain", sub, "status", resp.StatusCode)
		render.Status(r, http.StatusBadGateway)
		render.JSON(w, r, errorPayload{Error: "Bad Gateway", Subdomain: sub, Message: "invalid response status from tunnel"})
		return
	}

	body, err := tunnelproto.DecodeBody(resp.Body)
	if err != nil {
		s.log.Warn("tunnel response body decode failed", "subdomain", sub, "err", err)
		render.Status(r, http.StatusBadGateway)
		render.JSON(w, r, errorPayload{Error: "Bad Gateway", Subdomain: sub, Message: "invalid response body from tunnel"})
		return
	}

	h := w.Header()
	for name, value := range resp.Headers {
		if netutil.IsHopByHopHeader(name) {
			continue
		}
		h.Set(name, value)
	}
	h.Set("X-Powered-By", "LocalHosted")
	h.Set("X-Tunnel-Subdomain", sub)

	w.WriteHeader(resp.StatusCode)
	if len(body) > 0 {
		_, _ = w.Write(body)
	}
}

// injectForwardedFor appends the caller's IP to the X-Forwarded-For chain
// so the tunnel client can identify unique callers.
func injectForwardedFor(h map[string]string, remoteAddr string) {
	ip := remoteAddr
	if host, _, err := net.SplitHostPort(remoteAddr); err == nil {
		ip = host
	}
	ip = strings.TrimSpace(ip)
	if ip == "" {
		return
	}
	if existing := popHeaderCI(h, "X-Forwarded-For"); existing != "" {
		h["X-Forwarded-For"] = existing + ", " + ip
	} else {
		h["X-Forwarded-For"] = ip
	}
}

// injectForwardedProxyHeaders overwrites reverse-proxy headers to reflect
// the public request. Public callers can spoof these, so case-insensitive
// variants are removed before the canonical keys are set.
func injectForwardedProxyHeaders(h map[string]string, r *http.Request) {
	host := strings.TrimSpace(r.Host)
	if host == "" {
		return
	}

	popHeaderCI(h, "X-Forwarded-Proto")
	popHeaderCI(h, "X-Forwarded-Host")

	proto := "http"
	if r.TLS != nil {
		proto = "https"
	}
	h["X-Forwarded-Proto"] = proto
	h["X-Forwarded-Host"] = host
}

// popHeaderCI removes every case-insensitive variant of key and returns
// the first removed value.
func popHeaderCI(h map[string]string, key string) string {
	var first string
	for k, v := range h {
		if !strings.EqualFold(k, key) {
			continue
		}
		if first == "" {
			first = strings.TrimSpace(v)
		}
		delete(h, k)
	}
	return first
}
