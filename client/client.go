// Package client sends vPoller tasks and survives silent workers.
//
// A REQ-style channel allows exactly one request before its reply. When the
// reply never comes the channel is wedged for good, so a retry cannot reuse
// it: each attempt owns a fresh channel and closes it before the next one is
// opened.
//
//	attempt 1: open ─ send ─ wait(timeout) ─ close ──► reply? done
//	attempt 2: open ─ send ─ wait(timeout) ─ close ──► reply? done
//	...
//	attempt Retries+1 ─────────────────────────────────► ErrNoReply / ErrChannel
//
// There is no backoff. Each attempt runs under one Timeout deadline that
// covers reaching the proxy as well as waiting for its reply, so a call is
// bounded by Timeout × (Retries+1). An unreachable proxy is indistinguishable
// from a silent one and ends in ErrNoReply; ErrChannel is left for channels
// that cannot be allocated at all (bad address, closed transport context).
package client

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"vpoller-module/loadbalance"
	"vpoller-module/message"
	"vpoller-module/task"
	"vpoller-module/transport"
)

var (
	// ErrChannel means the last attempt could not even open a channel.
	ErrChannel = errors.New("cannot create channel")
	// ErrNoReply means every attempt went unanswered.
	ErrNoReply = errors.New("no reply from vPoller")
)

// Options are read once at startup and shared by every call.
type Options struct {
	Timeout time.Duration // Wait for a reply, per attempt
	Retries int           // Attempts after the first one
}

// Attempts is the most channels a single call opens.
func (o Options) Attempts() int {
	return max(o.Retries, 0) + 1
}

// MaxCallDuration is the worst-case time a call waits for replies.
func (o Options) MaxCallDuration() time.Duration {
	return o.Timeout * time.Duration(o.Attempts())
}

// Client dispatches tasks over channels from one transport Context.
type Client struct {
	transport *transport.Context
	balancer  loadbalance.Balancer
	opts      Options
	logger    *zap.Logger
}

func New(tc *transport.Context, balancer loadbalance.Balancer, opts Options, logger *zap.Logger) *Client {
	return &Client{
		transport: tc,
		balancer:  balancer,
		opts:      opts,
		logger:    logger.Named("client"),
	}
}

// Call handles one vpoller item: build the task, pick a proxy, dispatch it
// and map the outcome. It always returns a Result.
func (c *Client) Call(_ context.Context, req *message.Request) *message.Result {
	logger := c.logger.With(zap.String("request_id", req.ID))

	d, err := task.FromParams(req.Params)
	if err != nil {
		return Result(nil, err)
	}
	payload, err := d.Payload()
	if err != nil {
		return Result(nil, fmt.Errorf("encode task: %w", err))
	}

	inst, err := c.balancer.Pick(d.Hostname)
	if err != nil {
		return Result(nil, err)
	}

	logger.Debug("sending task request to vPoller",
		zap.String("addr", inst.Addr),
		zap.String("method", d.Method),
		zap.String("hostname", d.Hostname),
		zap.String("name", d.Name))
	reply, err := c.dispatch(logger, inst.Addr, payload)
	return Result(reply, err)
}

// Dispatch sends payload to addr and returns the first reply. Every channel
// opened on the way is closed before Dispatch returns.
func (c *Client) Dispatch(addr string, payload []byte) ([]byte, error) {
	return c.dispatch(c.logger, addr, payload)
}

func (c *Client) dispatch(logger *zap.Logger, addr string, payload []byte) ([]byte, error) {
	logger = logger.With(zap.String("addr", addr))
	attempts := c.opts.Attempts()

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		reply, err := c.attempt(addr, payload)
		if err == nil {
			logger.Debug("received reply from vPoller", zap.Int("attempt", attempt), zap.Int("bytes", len(reply)))
			return reply, nil
		}
		lastErr = err

		if attempt < attempts {
			logger.Warn("did not receive response from vPoller, retrying...", zap.Int("attempt", attempt), zap.Error(err))
		} else {
			logger.Warn("did not receive response from vPoller, giving up", zap.Int("attempt", attempt), zap.Error(err))
		}
	}

	if errors.Is(lastErr, ErrChannel) {
		return nil, lastErr
	}
	return nil, fmt.Errorf("%w after %d attempts: %w", ErrNoReply, attempts, lastErr)
}

// attempt is one open → send → wait cycle under a single deadline: whatever
// opening and sending take is no longer available for the wait. The channel
// it opens is closed on every path out of it, so an unanswered channel can
// never be reused.
func (c *Client) attempt(addr string, payload []byte) ([]byte, error) {
	deadline := time.Now().Add(c.opts.Timeout)

	ch, err := c.transport.Channel(addr)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrChannel, err)
	}
	defer func() {
		if err := ch.Close(); err != nil {
			c.logger.Debug("closing channel", zap.String("addr", addr), zap.Error(err))
		}
	}()

	if err := ch.Send(payload); err != nil {
		return nil, fmt.Errorf("send: %w", err)
	}
	reply, err := ch.Recv(time.Until(deadline))
	if err != nil {
		return nil, fmt.Errorf("receive: %w", err)
	}
	return reply, nil
}
