package transport

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/go-zeromq/zmq4"
)

// zmqDialRetry is the pause between connection attempts to an absent peer.
const zmqDialRetry = 250 * time.Millisecond

// ZMQDriver opens ZeroMQ REQ sockets, the transport vPoller proxies listen on.
type ZMQDriver struct {
	DialTimeout time.Duration
}

func (d *ZMQDriver) Name() string { return DriverZMQ }

// Open allocates a REQ socket for addr without touching the network. Like
// zmq_connect, the connection is made in the background once a request is
// queued.
func (d *ZMQDriver) Open(ctx context.Context, addr string) (Channel, error) {
	if _, _, err := splitEndpoint(addr); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	sctx, cancel := context.WithCancel(ctx)
	sock := zmq4.NewReq(sctx,
		zmq4.WithDialerTimeout(d.DialTimeout),
		zmq4.WithDialerMaxRetries(0), // the exchange loop retries, so Close can interrupt it
	)
	return &zmqChannel{sock: sock, addr: addr, ctx: sctx, cancel: cancel}, nil
}

// zmqChannel wraps a REQ socket. zmq4 has no poll, so Send starts the whole
// exchange (connect, send, receive) on a goroutine and Recv races its result
// against a timer. Close cancels the socket and waits for that goroutine,
// which drops any reply it was holding.
type zmqChannel struct {
	sock   zmq4.Socket
	addr   string
	ctx    context.Context // Socket lifetime, cancelled by Close
	cancel context.CancelFunc

	mu        sync.Mutex
	pending   bool
	closed    bool
	connected bool
	inflight  chan zmqRead // Result of the exchange in progress, if any
	failed    error        // Set when an exchange ended without a reply
	exchanges sync.WaitGroup
}

type zmqRead struct {
	msg zmq4.Msg
	err error
}

func (c *zmqChannel) Send(payload []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrChannelClosed
	}
	if c.pending {
		return ErrRequestPending
	}

	connected := c.connected
	inflight := make(chan zmqRead, 1)
	c.inflight = inflight
	c.pending = true
	c.exchanges.Add(1)
	go func() {
		defer c.exchanges.Done()
		msg, err := c.exchange(connected, payload)
		inflight <- zmqRead{msg: msg, err: err}
	}()
	return nil
}

func (c *zmqChannel) exchange(connected bool, payload []byte) (zmq4.Msg, error) {
	if !connected {
		if err := c.connect(); err != nil {
			return zmq4.Msg{}, err
		}
	}
	if err := c.sock.Send(zmq4.NewMsg(payload)); err != nil {
		return zmq4.Msg{}, err
	}
	return c.sock.Recv()
}

// connect dials until the peer answers or the channel is closed.
func (c *zmqChannel) connect() error {
	for {
		err := c.sock.Dial(c.addr)
		if err == nil {
			c.mu.Lock()
			c.connected = true
			c.mu.Unlock()
			return nil
		}

		timer := time.NewTimer(zmqDialRetry)
		select {
		case <-c.ctx.Done():
			timer.Stop()
			return ErrChannelClosed
		case <-timer.C:
		}
	}
}

func (c *zmqChannel) Recv(timeout time.Duration) ([]byte, error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, ErrChannelClosed
	}
	if !c.pending {
		c.mu.Unlock()
		return nil, ErrNoRequest
	}
	if c.failed != nil {
		err := c.failed
		c.mu.Unlock()
		return nil, err
	}
	// A wait that timed out earlier leaves the exchange running; picking it
	// up again never starts a second reader on the socket.
	done := c.inflight
	c.mu.Unlock()

	timer := time.NewTimer(max(timeout, 0))
	defer timer.Stop()

	select {
	case r := <-done:
		c.mu.Lock()
		defer c.mu.Unlock()
		if r.err != nil {
			c.failed = r.err
			return nil, r.err
		}
		c.inflight = nil
		c.pending = false
		return r.msg.Bytes(), nil
	case <-timer.C:
		return nil, ErrTimeout
	}
}

func (c *zmqChannel) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()

	c.cancel()
	err := c.sock.Close()
	c.exchanges.Wait()
	if errors.Is(err, context.Canceled) {
		err = nil
	}
	return err
}
