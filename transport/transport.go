// Package transport provides the request/reply channels the dispatch client
// sends tasks over, and the process-wide Context they are opened from.
//
// A Channel is strictly alternating: one request, then exactly one reply,
// before the next request. A request that never gets its reply leaves the
// channel stuck for good, so callers throw it away and open a new one.
//
//	Context ──Channel(addr)──► Channel ──Send──► worker
//	                              ▲                 │
//	                              └──Recv(timeout)──┘   (or ErrTimeout)
package transport

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"time"
)

var (
	ErrTimeout        = errors.New("no reply within timeout")
	ErrRequestPending = errors.New("request already outstanding on channel")
	ErrNoRequest      = errors.New("no request outstanding on channel")
	ErrChannelClosed  = errors.New("channel closed")
	ErrContextClosed  = errors.New("transport context closed")
	ErrChannelsOpen   = errors.New("transport context closed with channels still open")
	ErrBadAddress     = errors.New("invalid endpoint address")
)

// Channel is a one-request-at-a-time endpoint bound to one address.
type Channel interface {
	// Send writes payload as a single message.
	Send(payload []byte) error
	// Recv waits up to timeout for the reply to the outstanding request,
	// including any time still needed to reach the peer.
	Recv(timeout time.Duration) ([]byte, error)
	// Close drops the endpoint immediately; queued data is discarded.
	Close() error
}

// Driver opens channels of one transport kind. Open only validates the
// address and allocates the channel; connecting to the peer is part of the
// exchange, so an unreachable peer looks exactly like a silent one.
type Driver interface {
	Name() string
	Open(ctx context.Context, addr string) (Channel, error)
}

const (
	DriverZMQ   = "zmq"
	DriverFrame = "frame"
)

// NewDriver returns the driver registered under name. dialTimeout bounds a
// single connection attempt; attempts repeat until the reply wait expires.
func NewDriver(name string, dialTimeout time.Duration) (Driver, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", DriverZMQ:
		return &ZMQDriver{DialTimeout: dialTimeout}, nil
	case DriverFrame:
		return &FrameDriver{DialTimeout: dialTimeout}, nil
	default:
		return nil, fmt.Errorf("unknown transport %q", name)
	}
}

// splitEndpoint checks a scheme://host:port endpoint. A bare host:port is
// taken as tcp.
func splitEndpoint(addr string) (scheme, hostport string, err error) {
	scheme, hostport, ok := strings.Cut(addr, "://")
	if !ok {
		scheme, hostport = "tcp", addr
	}
	switch scheme {
	case "tcp", "udp":
		if _, _, err := net.SplitHostPort(hostport); err != nil {
			return "", "", fmt.Errorf("%w %q: %w", ErrBadAddress, addr, err)
		}
	case "ipc", "inproc":
		if hostport == "" {
			return "", "", fmt.Errorf("%w %q: empty path", ErrBadAddress, addr)
		}
	default:
		return "", "", fmt.Errorf("%w %q: unsupported scheme %q", ErrBadAddress, addr, scheme)
	}
	return scheme, hostport, nil
}
