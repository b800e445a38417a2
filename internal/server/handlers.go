package server

import (
	"net/http"
	"runtime"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/go-chi/render"

	"github.com/krishna3006b/localhosted-tunnel-server/internal/registry"
)

type healthResponse struct {
	Status    string `json:"status"`
	Uptime    string `json:"uptime"`
	Domain    string `json:"domain"`
	Env       string `json:"env"`
	Timestamp string `json:"timestamp"`
}

type memoryStats struct {
	Alloc      string `json:"alloc"`
	Sys        string `json:"sys"`
	Goroutines int    `json:"goroutines"`
}

type statsResponse struct {
	ActiveTunnels int                    `json:"activeTunnels"`
	Tunnels       []registry.TunnelStats `json:"tunnels"`
	Domain        string                 `json:"domain"`
	Uptime        string                 `json:"uptime"`
	Memory        memoryStats            `json:"memory"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	render.JSON(w, r, healthResponse{
		Status:    "ok",
		Uptime:    time.Since(s.startedAt).Round(time.Second).String(),
		Domain:    s.cfg.Domain,
		Env:       s.cfg.Env,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)

	tunnels := s.registry.Stats()
	render.JSON(w, r, statsResponse{
		ActiveTunnels: len(tunnels),
		Tunnels:       tunnels,
		Domain:        s.cfg.Domain,
		Uptime:        time.Since(s.startedAt).Round(time.Second).String(),
		Memory: memoryStats{
			Alloc:      humanize.Bytes(m.Alloc),
			Sys:        humanize.Bytes(m.Sys),
			Goroutines: runtime.NumGoroutine(),
		},
	})
}

type notFoundResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	Domain  string `json:"domain"`
}

func (s *Server) handleNotFound(w http.ResponseWriter, r *http.Request) {
	render.Status(r, http.StatusNotFound)
	render.JSON(w, r, notFoundResponse{
		Error:   "Not Found",
		Message: "no route matches " + r.URL.Path,
		Domain:  s.cfg.Domain,
	})
}

const landingPage = `<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="utf-8">
<title>LocalHosted</title>
<style>
  body { font-family: system-ui, sans-serif; max-width: 40rem; margin: 4rem auto; padding: 0 1rem; color: #222; }
  code { background: #f4f4f4; padding: 0.15rem 0.35rem; border-radius: 4px; }
</style>
</head>
<body>
<h1>LocalHosted</h1>
<p>Expose a local HTTP server on a public subdomain.</p>
<p>Connect a tunnel client to <code>/tunnel</code> and your service becomes
reachable at <code>https://&lt;subdomain&gt;.{{domain}}</code>.</p>
</body>
</html>
`

func (s *Server) handleLanding(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write([]byte(strings.ReplaceAll(landingPage, "{{domain}}", s.cfg.Domain)))
}
