// Package worker is a frame-protocol request/reply peer for the dispatch
// client: it stands in for a vPoller proxy in tests and local setups.
//
// Request processing:
//
//	Accept conn → serveConn (one goroutine per connection)
//	  → read request frame → Handler → write reply frame with the same seq
//
// A connection carries one request at a time, like a ZeroMQ REP socket: the
// next frame is not read until the current one is answered (or dropped).
package worker

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"vpoller-module/codec"
	"vpoller-module/protocol"
	"vpoller-module/registry"
)

// registrationTTL is the lease, in seconds, a published worker keeps alive.
const registrationTTL = 10

// ErrDrop makes the worker swallow a request without replying, the way a
// wedged or crashed vPoller worker looks from the client side.
var ErrDrop = errors.New("drop request")

// failureReply is vPoller's in-band error document.
type failureReply struct {
	Success int    `json:"success"`
	Msg     string `json:"msg"`
}

// Handler turns a task document into a reply.
type Handler func(ctx context.Context, task []byte) ([]byte, error)

// Echo replies with the task itself.
func Echo(_ context.Context, task []byte) ([]byte, error) {
	return task, nil
}

// Server accepts frame connections and answers each request with Handler.
type Server struct {
	handler Handler
	logger  *zap.Logger

	listener  net.Listener  // nil if Serve failed to listen
	ready     chan struct{} // Closed once Serve has listened, or failed to
	readyOnce sync.Once
	wg        sync.WaitGroup
	shutdown  atomic.Bool

	mu    sync.Mutex
	conns map[net.Conn]struct{}

	registry      registry.Registry // nil when not publishing the worker
	serviceName   string
	advertiseAddr string // Address registered in the registry, e.g. "tcp://10.0.0.5:10123"
}

func New(handler Handler, logger *zap.Logger) *Server {
	return &Server{
		handler: handler,
		logger:  logger.Named("worker"),
		ready:   make(chan struct{}),
		conns:   make(map[net.Conn]struct{}),
	}
}

// Publish makes Serve register the worker under serviceName as advertiseAddr,
// with a registrationTTL lease, and Shutdown remove it again.
func (s *Server) Publish(reg registry.Registry, serviceName, advertiseAddr string) {
	s.registry = reg
	s.serviceName = serviceName
	s.advertiseAddr = advertiseAddr
}

// Serve listens on address and blocks in the accept loop until Shutdown.
func (s *Server) Serve(network, address string) error {
	defer s.markReady()

	listener, err := net.Listen(network, address)
	if err != nil {
		return err
	}
	s.listener = listener

	if s.registry != nil {
		err := s.registry.Register(context.Background(), s.serviceName, registry.ServiceInstance{
			Addr:   s.advertiseAddr,
			Weight: 1,
		}, registrationTTL)
		if err != nil {
			s.shutdown.Store(true)
			listener.Close()
			return fmt.Errorf("register %s: %w", s.advertiseAddr, err)
		}
	}
	s.markReady()
	s.logger.Info("listening", zap.Stringer("addr", listener.Addr()))

	for {
		conn, err := listener.Accept()
		if err != nil {
			if s.shutdown.Load() {
				return nil
			}
			return err
		}
		s.track(conn, true)
		s.wg.Add(1)
		go s.serveConn(conn)
	}
}

func (s *Server) markReady() {
	s.readyOnce.Do(func() { close(s.ready) })
}

// Addr waits for Serve to start listening and returns the bound address,
// or nil if Serve could not listen.
func (s *Server) Addr() net.Addr {
	<-s.ready
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Endpoint is Addr in tcp:// form, as the client configuration expects it.
// It is empty if Serve could not listen.
func (s *Server) Endpoint() string {
	addr := s.Addr()
	if addr == nil {
		return ""
	}
	return "tcp://" + addr.String()
}

func (s *Server) track(conn net.Conn, add bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if add {
		s.conns[conn] = struct{}{}
	} else {
		delete(s.conns, conn)
	}
}

func (s *Server) serveConn(conn net.Conn) {
	defer s.wg.Done()
	defer s.track(conn, false)
	defer conn.Close()

	ctx := context.Background()
	for {
		header, body, err := protocol.Decode(conn)
		if err != nil {
			return // Peer went away or spoke garbage
		}
		if header.MsgType != protocol.MsgTypeRequest {
			continue
		}

		reply, err := s.handler(ctx, body)
		if errors.Is(err, ErrDrop) {
			s.logger.Debug("dropping request", zap.Uint32("seq", header.Seq))
			continue
		}
		if err != nil {
			// vPoller answers failures in-band; so does the worker.
			c, cerr := codec.GetCodec(codec.CodecType(header.CodecType))
			if cerr != nil {
				s.logger.Debug("no codec for reply", zap.Error(cerr))
				return
			}
			if reply, err = c.Encode(&failureReply{Success: 1, Msg: err.Error()}); err != nil {
				s.logger.Debug("encode failure reply", zap.Error(err))
				return
			}
		}

		replyHeader := protocol.Header{
			CodecType: header.CodecType,
			MsgType:   protocol.MsgTypeReply,
			Seq:       header.Seq,
			BodyLen:   uint32(len(reply)),
		}
		if err := protocol.Encode(conn, &replyHeader, reply); err != nil {
			s.logger.Debug("write reply failed", zap.Error(err))
			return
		}
	}
}

// Shutdown deregisters the worker, stops accepting, closes open connections
// and waits up to timeout for their goroutines to finish.
func (s *Server) Shutdown(timeout time.Duration) error {
	<-s.ready
	if s.listener == nil {
		return nil
	}
	if s.registry != nil {
		if err := s.registry.Deregister(context.Background(), s.serviceName, s.advertiseAddr); err != nil {
			s.logger.Warn("deregister failed", zap.Error(err))
		}
	}

	s.shutdown.Store(true)
	s.listener.Close()

	s.mu.Lock()
	for conn := range s.conns {
		conn.Close()
	}
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-time.After(timeout):
		return fmt.Errorf("timeout waiting for connections to finish")
	}
}
