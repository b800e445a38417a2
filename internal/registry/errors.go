package registry

import "errors"

// Sentinel errors for well-known forwarding failures. Callers should use
// [errors.Is] to match these and map them to HTTP status codes.
var (
	// ErrTunnelNotFound means no tunnel occupies the requested subdomain.
	ErrTunnelNotFound = errors.New("tunnel not found")

	// ErrTunnelNotOpen means the tunnel's channel was closed before the
	// request frame could be sent.
	ErrTunnelNotOpen = errors.New("tunnel not open")

	// ErrTunnelDisconnected means the channel closed while a request was
	// in flight.
	ErrTunnelDisconnected = errors.New("tunnel disconnected")

	// ErrRequestTimeout means the per-request deadline elapsed before the
	// client replied.
	ErrRequestTimeout = errors.New("request timeout")
)
