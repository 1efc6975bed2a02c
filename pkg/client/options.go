// Package client is the livequery client: a self-healing connection, request/response
// correlation, live query subscriptions and optimistic mutations.
package client

import (
	"net/http"
	"time"

	"github.com/morezero/livequery/pkg/protocol"
)

// Options configures a Connection.
type Options struct {
	// URL is the websocket endpoint, e.g. ws://localhost:8080/ws.
	URL string
	// InitialBackoff is the delay before the first reconnection attempt (default 1s).
	InitialBackoff time.Duration
	// MaxBackoff caps the reconnection delay (default 30s).
	MaxBackoff time.Duration
	// MaxAttempts bounds consecutive failed reconnection attempts before the connection reports
	// StatusFailed (default 10). Negative means unlimited.
	MaxAttempts int
	// DialTimeout bounds each dial (default 10s).
	DialTimeout time.Duration
	// WriteTimeout bounds each frame write (default 5s).
	WriteTimeout time.Duration
	// HTTPHeader is sent with every handshake. The protocol version header is added if absent.
	HTTPHeader http.Header
}

func (o Options) withDefaults() Options {
	if o.InitialBackoff <= 0 {
		o.InitialBackoff = time.Second
	}
	if o.MaxBackoff <= 0 {
		o.MaxBackoff = 30 * time.Second
	}
	if o.MaxBackoff < o.InitialBackoff {
		o.MaxBackoff = o.InitialBackoff
	}
	if o.MaxAttempts == 0 {
		o.MaxAttempts = 10
	}
	if o.DialTimeout <= 0 {
		o.DialTimeout = 10 * time.Second
	}
	if o.WriteTimeout <= 0 {
		o.WriteTimeout = 5 * time.Second
	}
	header := o.HTTPHeader.Clone()
	if header == nil {
		header = http.Header{}
	}
	if header.Get(protocol.VersionHeader) == "" {
		header.Set(protocol.VersionHeader, protocol.Version)
	}
	o.HTTPHeader = header
	return o
}
