package transport

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"
)

// Context is the process-wide transport handle. It is opened once at module
// init, shared by every concurrent call, and closed once at shutdown after
// the last channel is gone.
type Context struct {
	driver Driver
	logger *zap.Logger

	base   context.Context // Parent of every channel; cancelled by Close
	cancel context.CancelFunc

	mu     sync.RWMutex // Channel holds it shared, Close exclusively
	closed bool

	opened atomic.Int64
	closes atomic.Int64
}

// Stats is a snapshot of channel accounting.
type Stats struct {
	Opened int64 // Channels handed out
	Closed int64 // Channels closed (each counted once)
}

// Live is the number of channels not yet closed.
func (s Stats) Live() int64 { return s.Opened - s.Closed }

// Open creates the transport context for driver.
func Open(driver Driver, logger *zap.Logger) *Context {
	base, cancel := context.WithCancel(context.Background())
	logger = logger.Named("transport")
	logger.Debug("transport context opened", zap.String("driver", driver.Name()))
	return &Context{
		driver: driver,
		logger: logger,
		base:   base,
		cancel: cancel,
	}
}

// Channel opens a fresh channel to addr. Safe for concurrent use.
func (c *Context) Channel(addr string) (Channel, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return nil, ErrContextClosed
	}

	ch, err := c.driver.Open(c.base, addr)
	if err != nil {
		return nil, fmt.Errorf("open %s channel to %s: %w", c.driver.Name(), addr, err)
	}
	c.opened.Add(1)
	return &trackedChannel{Channel: ch, owner: c}, nil
}

// Close destroys the context. Channels still open at this point are a caller
// bug: the context is closed anyway and ErrChannelsOpen is returned.
func (c *Context) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrContextClosed
	}
	c.closed = true
	c.cancel()

	st := c.stats()
	c.logger.Debug("transport context closed",
		zap.Int64("opened", st.Opened),
		zap.Int64("closed", st.Closed))
	if st.Live() > 0 {
		return fmt.Errorf("%w: %d", ErrChannelsOpen, st.Live())
	}
	return nil
}

func (c *Context) Stats() Stats {
	return c.stats()
}

func (c *Context) stats() Stats {
	return Stats{Opened: c.opened.Load(), Closed: c.closes.Load()}
}

// trackedChannel counts its own Close exactly once.
type trackedChannel struct {
	Channel
	owner *Context
	once  sync.Once
	err   error
}

func (t *trackedChannel) Close() error {
	t.once.Do(func() {
		t.err = t.Channel.Close()
		t.owner.closes.Add(1)
	})
	return t.err
}
