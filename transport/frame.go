package transport

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"vpoller-module/protocol"
)

// frameDialRetry is the pause between connection attempts to an absent peer.
const frameDialRetry = 250 * time.Millisecond

// FrameDriver opens plain TCP channels speaking protocol frames. It talks
// to the worker package and to anything else implementing the frame format.
type FrameDriver struct {
	DialTimeout time.Duration
}

func (d *FrameDriver) Name() string { return DriverFrame }

// Open validates addr and returns an unconnected channel; the connection is
// made when the first reply is awaited.
func (d *FrameDriver) Open(ctx context.Context, addr string) (Channel, error) {
	scheme, hostport, err := splitEndpoint(addr)
	if err != nil {
		return nil, err
	}
	if scheme != "tcp" {
		return nil, fmt.Errorf("%w %q: frame transport needs tcp", ErrBadAddress, addr)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return &frameChannel{ctx: ctx, addr: hostport, dialTimeout: d.DialTimeout}, nil
}

type frameChannel struct {
	ctx         context.Context // Transport context; cancelling it aborts dialing
	addr        string
	dialTimeout time.Duration

	mu      sync.Mutex // Send, Recv and Close never overlap on one channel
	conn    net.Conn   // nil until connected
	out     []byte     // Request queued by Send, written by Recv
	seq     uint32
	pending bool
	closed  bool
}

// Send queues payload as the channel's one outstanding request.
func (c *frameChannel) Send(payload []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrChannelClosed
	}
	if c.pending {
		return ErrRequestPending
	}

	c.seq++
	c.out = payload
	c.pending = true
	return nil
}

// Recv connects if needed, writes the queued request and reads the reply,
// all within one timeout.
func (c *frameChannel) Recv(timeout time.Duration) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, ErrChannelClosed
	}
	if !c.pending {
		return nil, ErrNoRequest
	}
	deadline := time.Now().Add(timeout)

	if c.conn == nil {
		conn, err := c.dial(deadline)
		if err != nil {
			return nil, err
		}
		c.conn = conn
	}

	if c.out != nil {
		header := protocol.Header{
			CodecType: protocol.CodecTypeJSON,
			MsgType:   protocol.MsgTypeRequest,
			Seq:       c.seq,
			BodyLen:   uint32(len(c.out)),
		}
		if err := c.conn.SetWriteDeadline(deadline); err != nil {
			return nil, err
		}
		if err := protocol.Encode(c.conn, &header, c.out); err != nil {
			return nil, timeoutOr(err)
		}
		c.out = nil
	}

	if err := c.conn.SetReadDeadline(deadline); err != nil {
		return nil, err
	}
	for {
		header, body, err := protocol.Decode(c.conn)
		if err != nil {
			return nil, timeoutOr(err)
		}
		switch {
		case header.MsgType == protocol.MsgTypeHeartbeat:
			continue
		case header.MsgType != protocol.MsgTypeReply:
			return nil, fmt.Errorf("unexpected message type %d", header.MsgType)
		case header.Seq != c.seq:
			return nil, fmt.Errorf("reply seq %d does not match request %d", header.Seq, c.seq)
		}
		c.pending = false
		return body, nil
	}
}

// dial retries until it connects or deadline passes; running out of time
// is reported as ErrTimeout, the same as a peer that never answers.
func (c *frameChannel) dial(deadline time.Time) (net.Conn, error) {
	for {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return nil, ErrTimeout
		}
		if c.dialTimeout > 0 {
			remaining = min(remaining, c.dialTimeout)
		}

		dialer := net.Dialer{Timeout: remaining}
		conn, err := dialer.DialContext(c.ctx, "tcp", c.addr)
		if err == nil {
			// Zero linger: Close resets the connection instead of draining it.
			if tcp, ok := conn.(*net.TCPConn); ok {
				if err := tcp.SetLinger(0); err != nil {
					conn.Close()
					return nil, err
				}
			}
			return conn, nil
		}
		if c.ctx.Err() != nil {
			return nil, ErrChannelClosed
		}

		wait := min(frameDialRetry, time.Until(deadline))
		if wait <= 0 {
			return nil, ErrTimeout
		}
		timer := time.NewTimer(wait)
		select {
		case <-c.ctx.Done():
			timer.Stop()
			return nil, ErrChannelClosed
		case <-timer.C:
		}
	}
}

func timeoutOr(err error) error {
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return ErrTimeout
	}
	return err
}

func (c *frameChannel) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	if c.conn == nil {
		return nil
	}
	return c.conn.Close()
}
