// Package registry tracks active tunnels by subdomain and correlates
// framed responses with the public requests that spawned them.
package registry

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/krishna3006b/localhosted-tunnel-server/internal/tunnelproto"
)

// Registry is the concurrent subdomain -> Tunnel mapping. A single mutex
// serializes map mutations and pending-table access; channel writes are
// serialized by the channels themselves.
type Registry struct {
	mu      sync.Mutex
	tunnels map[string]*Tunnel
	log     *slog.Logger
}

// New creates an empty registry.
func New(logger *slog.Logger) *Registry {
	return &Registry{
		tunnels: make(map[string]*Tunnel),
		log:     logger,
	}
}

// Register inserts a tunnel for the subdomain, evicting any prior holder
// first. The evicted tunnel's pending waiters fail with
// [ErrTunnelDisconnected] and its channel is closed with a normal-closure
// code, unless the new registration reuses the same channel.
func (r *Registry) Register(sub string, localPort int, ch Channel) *Tunnel {
	r.mu.Lock()
	defer r.mu.Unlock()

	if prev, ok := r.tunnels[sub]; ok {
		r.removeLocked(prev, ch, CloseNormal, "subdomain re-registered")
	}

	tn := &Tunnel{
		id:          uuid.NewString(),
		subdomain:   sub,
		localPort:   localPort,
		channel:     ch,
		connectedAt: time.Now(),
		pending:     make(map[string]*waiter),
	}
	r.tunnels[sub] = tn
	r.log.Info("tunnel registered", "subdomain", sub, "tunnel_id", tn.id, "local_port", localPort)
	return tn
}

// Get returns the tunnel occupying the subdomain, or nil.
func (r *Registry) Get(sub string) *Tunnel {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.tunnels[sub]
}

// Remove evicts the subdomain's tunnel, failing its pending waiters with
// [ErrTunnelDisconnected] and closing its channel with a normal-closure
// code. No-op when the subdomain is vacant.
func (r *Registry) Remove(sub string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if tn, ok := r.tunnels[sub]; ok {
		r.removeLocked(tn, nil, CloseNormal, "tunnel removed")
	}
}

// RemoveByChannel evicts every tunnel owned by the channel. Idempotent.
func (r *Registry) RemoveByChannel(ch Channel) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, tn := range r.tunnels {
		if tn.channel == ch {
			r.removeLocked(tn, nil, CloseNormal, "channel closed")
		}
	}
}

// removeLocked completes all pending waiters, closes the channel (unless
// it is keepOpen, the channel of a replacing registration), and deletes
// the map entry. Runs under r.mu so no new waiter can park on the dead
// tunnel once it returns.
func (r *Registry) removeLocked(tn *Tunnel, keepOpen Channel, code int, reason string) {
	for id, w := range tn.pending {
		delete(tn.pending, id)
		w.complete(waitResult{err: ErrTunnelDisconnected})
	}
	if tn.channel != keepOpen && tn.channel.IsOpen() {
		_ = tn.channel.Close(code, reason)
	}
	delete(r.tunnels, tn.subdomain)
	r.log.Info("tunnel removed", "subdomain", tn.subdomain, "tunnel_id", tn.id, "reason", reason)
}

// Forward transmits the request frame on the subdomain's tunnel and parks
// until the matching response arrives, the timeout elapses, or the tunnel
// dies. The waiter is installed before the frame is sent so a fast
// response cannot outrun its registration.
func (r *Registry) Forward(sub string, req *tunnelproto.Request, timeout time.Duration) (*tunnelproto.Response, error) {
	r.mu.Lock()
	tn, ok := r.tunnels[sub]
	if !ok {
		r.mu.Unlock()
		return nil, ErrTunnelNotFound
	}
	if !tn.channel.IsOpen() {
		r.removeLocked(tn, nil, CloseNormal, "channel found closed")
		r.mu.Unlock()
		return nil, ErrTunnelNotOpen
	}

	w := &waiter{
		done:  make(chan waitResult, 1),
		timer: time.NewTimer(timeout),
	}
	tn.pending[req.ID] = w
	r.mu.Unlock()

	msg, err := tunnelproto.NewRequestMessage(req)
	if err == nil {
		err = tn.channel.WriteJSON(msg)
	}
	if err != nil {
		r.popWaiter(tn, req.ID)
		w.timer.Stop()
		return nil, fmt.Errorf("%w: %v", ErrTunnelNotOpen, err)
	}
	tn.requestCount.Add(1)

	select {
	case res := <-w.done:
		w.timer.Stop()
		return res.resp, res.err
	case <-w.timer.C:
		if r.popWaiter(tn, req.ID) {
			return nil, ErrRequestTimeout
		}
		// A completion raced the deadline; it is already in flight.
		res := <-w.done
		return res.resp, res.err
	}
}

// HandleResponse resolves the waiter parked on the response id, provided
// the response arrived on the channel owning that waiter's tunnel.
// Unknown ids and foreign channels are dropped silently.
func (r *Registry) HandleResponse(ch Channel, resp *tunnelproto.Response) {
	r.mu.Lock()
	for _, tn := range r.tunnels {
		if tn.channel != ch {
			continue
		}
		if w, ok := tn.pending[resp.ID]; ok {
			delete(tn.pending, resp.ID)
			r.mu.Unlock()
			w.complete(waitResult{resp: resp})
			return
		}
	}
	r.mu.Unlock()
}

// popWaiter removes the waiter for id from the tunnel's pending table,
// reporting whether it was still present. The caller that wins the pop
// owns the waiter's completion.
func (r *Registry) popWaiter(tn *Tunnel, id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := tn.pending[id]; ok {
		delete(tn.pending, id)
		return true
	}
	return false
}

// CloseAll evicts every tunnel, closing each channel with the given code.
// Used for graceful shutdown (status 1001); in-flight requests fail with
// [ErrTunnelDisconnected].
func (r *Registry) CloseAll(code int, reason string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, tn := range r.tunnels {
		r.removeLocked(tn, nil, code, reason)
	}
}

// TunnelStats is a point-in-time read-out of one tunnel.
type TunnelStats struct {
	Subdomain    string    `json:"subdomain"`
	LocalPort    int       `json:"localPort"`
	ConnectedAt  time.Time `json:"connectedAt"`
	LastSeen     time.Time `json:"lastSeen"`
	RequestCount int64     `json:"requestCount"`
	Pending      int       `json:"pending"`
}

// Stats snapshots the active tunnel set.
func (r *Registry) Stats() []TunnelStats {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]TunnelStats, 0, len(r.tunnels))
	for _, tn := range r.tunnels {
		out = append(out, TunnelStats{
			Subdomain:    tn.subdomain,
			LocalPort:    tn.localPort,
			ConnectedAt:  tn.connectedAt,
			LastSeen:     tn.LastSeen(),
			RequestCount: tn.requestCount.Load(),
			Pending:      len(tn.pending),
		})
	}
	return out
}

// Len returns the number of active tunnels.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.tunnels)
}
