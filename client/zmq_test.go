package client

import (
	"context"
	"net"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-zeromq/zmq4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"vpoller-module/loadbalance"
	"vpoller-module/message"
	"vpoller-module/registry"
	"vpoller-module/transport"
)

// boundSlack is what a call may run past Timeout × attempts for scheduling
// and socket teardown.
const boundSlack = 250 * time.Millisecond

// listenRep runs a REP socket on addr. answer gets the 1-based request
// number; a nil reply leaves that request unanswered.
func listenRep(t *testing.T, addr string, answer func(n int32, req []byte) []byte) *atomic.Int32 {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	rep := zmq4.NewRep(ctx)
	t.Cleanup(func() {
		cancel()
		rep.Close()
	})
	require.NoError(t, rep.Listen(addr))

	var requests atomic.Int32
	go func() {
		for {
			msg, err := rep.Recv()
			if err != nil {
				return
			}
			reply := answer(requests.Add(1), msg.Bytes())
			if reply == nil {
				continue
			}
			if err := rep.Send(zmq4.NewMsg(reply)); err != nil {
				return
			}
		}
	}()
	return &requests
}

// freeEndpoint returns a loopback endpoint nothing listens on.
func freeEndpoint(t *testing.T) string {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := l.Addr().String()
	require.NoError(t, l.Close())
	return "tcp://" + addr
}

func newZMQClient(t *testing.T, endpoint string, opts Options) (*Client, *transport.Context) {
	t.Helper()
	tc := transport.Open(&transport.ZMQDriver{DialTimeout: time.Second}, zap.NewNop())
	bal, err := loadbalance.New("", []registry.ServiceInstance{{Addr: endpoint}})
	require.NoError(t, err)
	return New(tc, bal, opts, zap.NewNop()), tc
}

func vmRequest() *message.Request {
	return message.NewRequest("vpoller", "vm.get", "vc01", "vm01", "runtime.powerState")
}

func TestCallOverZMQ(t *testing.T) {
	endpoint := freeEndpoint(t)
	requests := listenRep(t, endpoint, func(_ int32, req []byte) []byte { return req })
	c, tc := newZMQClient(t, endpoint, Options{Timeout: time.Second, Retries: 1})

	res := c.Call(context.Background(), vmRequest())
	require.True(t, res.OK, res.Message)
	assert.Contains(t, res.Value, `"method":"vm.get"`)

	assert.Equal(t, int32(1), requests.Load())
	assert.Equal(t, transport.Stats{Opened: 1, Closed: 1}, tc.Stats())
	require.NoError(t, tc.Close())
}

func TestCallOverZMQSilentProxy(t *testing.T) {
	endpoint := freeEndpoint(t)
	requests := listenRep(t, endpoint, func(int32, []byte) []byte { return nil })
	opts := Options{Timeout: 100 * time.Millisecond, Retries: 2}
	c, tc := newZMQClient(t, endpoint, opts)

	start := time.Now()
	res := c.Call(context.Background(), vmRequest())
	elapsed := time.Since(start)

	assert.False(t, res.OK)
	assert.Equal(t, MsgNoReply, res.Message)
	assert.GreaterOrEqual(t, elapsed, opts.MaxCallDuration())
	assert.LessOrEqual(t, elapsed, opts.MaxCallDuration()+boundSlack)

	assert.Eventually(t, func() bool { return requests.Load() == 3 }, time.Second, 10*time.Millisecond,
		"each attempt delivers its request on a new socket")
	assert.Equal(t, transport.Stats{Opened: 3, Closed: 3}, tc.Stats())
	require.NoError(t, tc.Close())
}

func TestCallOverZMQReplyOnLastAttempt(t *testing.T) {
	endpoint := freeEndpoint(t)
	requests := listenRep(t, endpoint, func(n int32, _ []byte) []byte {
		if n < 3 {
			return nil
		}
		return []byte(`{"success":0,"result":"poweredOn"}`)
	})
	c, tc := newZMQClient(t, endpoint, Options{Timeout: 200 * time.Millisecond, Retries: 2})

	res := c.Call(context.Background(), vmRequest())
	require.True(t, res.OK, res.Message)
	assert.Equal(t, `{"success":0,"result":"poweredOn"}`, res.Value)

	assert.Equal(t, int32(3), requests.Load())
	assert.Equal(t, transport.Stats{Opened: 3, Closed: 3}, tc.Stats())
	require.NoError(t, tc.Close())
}

func TestCallOverZMQDeadProxy(t *testing.T) {
	opts := Options{Timeout: 300 * time.Millisecond, Retries: 1}
	c, tc := newZMQClient(t, freeEndpoint(t), opts)

	start := time.Now()
	res := c.Call(context.Background(), vmRequest())
	elapsed := time.Since(start)

	// A crashed proxy is silence, not a channel failure.
	assert.False(t, res.OK)
	assert.Equal(t, MsgNoReply, res.Message)
	assert.GreaterOrEqual(t, elapsed, opts.MaxCallDuration())
	assert.LessOrEqual(t, elapsed, opts.MaxCallDuration()+boundSlack)
	assert.Equal(t, transport.Stats{Opened: 2, Closed: 2}, tc.Stats())
	require.NoError(t, tc.Close())
}

func TestCallOverZMQLateProxyStaysWithinBound(t *testing.T) {
	endpoint := freeEndpoint(t)
	opts := Options{Timeout: 400 * time.Millisecond, Retries: 1}
	c, tc := newZMQClient(t, endpoint, opts)

	// The proxy comes up most of the way into the first attempt and never answers.
	ctx, cancel := context.WithCancel(context.Background())
	rep := zmq4.NewRep(ctx)
	t.Cleanup(func() {
		cancel()
		rep.Close()
	})
	listening := make(chan error, 1)
	time.AfterFunc(300*time.Millisecond, func() { listening <- rep.Listen(endpoint) })

	start := time.Now()
	res := c.Call(context.Background(), vmRequest())
	elapsed := time.Since(start)

	require.NoError(t, <-listening)
	assert.Equal(t, MsgNoReply, res.Message)
	assert.LessOrEqual(t, elapsed, opts.MaxCallDuration()+boundSlack)
	assert.Equal(t, transport.Stats{Opened: 2, Closed: 2}, tc.Stats())
	require.NoError(t, tc.Close())
}

func TestCallOverZMQBadEndpoint(t *testing.T) {
	c, tc := newZMQClient(t, "http://vpoller-proxy:10123", Options{Timeout: time.Second, Retries: 1})

	start := time.Now()
	res := c.Call(context.Background(), vmRequest())

	assert.Equal(t, MsgNoChannel, res.Message)
	assert.Less(t, time.Since(start), 100*time.Millisecond, "no attempt waits when no channel exists")
	assert.Zero(t, tc.Stats().Opened)
	require.NoError(t, tc.Close())
}
