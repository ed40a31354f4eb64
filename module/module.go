// Package module is the host-facing side of the vPoller client: lifecycle
// hooks, the item keys it serves and the echo item.
//
// Item invocation:
//
//	Handle(key, params) → Recover → Logging → [RateLimit] → item handler
//	  vpoller      → client.Call (task build, dispatch, result mapping)
//	  vpoller.echo → first param back
package module

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"vpoller-module/client"
	"vpoller-module/config"
	"vpoller-module/loadbalance"
	"vpoller-module/logging"
	"vpoller-module/message"
	"vpoller-module/middleware"
	"vpoller-module/registry"
	"vpoller-module/transport"
)

// APIVersion is the loadable-module interface version the host expects.
const APIVersion = 1

const (
	KeyVPoller = "vpoller"
	KeyEcho    = "vpoller.echo"

	MsgUnsupportedKey = "Unsupported item key"
)

// ErrClosed is returned by a second Uninit.
var ErrClosed = errors.New("module already uninitialized")

// Item describes one key the module serves.
type Item struct {
	Key        string
	HaveParams bool
	TestParams []string // Used by the host's item test mode
}

// Module holds everything shared by item invocations between Init and Uninit.
type Module struct {
	cfg    *config.Config
	logger *zap.Logger

	transport *transport.Context
	client    *client.Client
	etcd      *registry.EtcdRegistry // nil without discovery

	handlers map[string]middleware.HandlerFunc

	itemTimeout atomic.Int64 // ns; 0 until the host sets it

	mu     sync.Mutex
	closed bool
}

// Init loads the configuration at path (see config.Load), builds the logger
// and returns a ready Module.
func Init(path string) (*Module, error) {
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	logger, err := logging.New(cfg.Log)
	if err != nil {
		return nil, fmt.Errorf("build logger: %w", err)
	}

	m, err := New(cfg, logger)
	if err != nil {
		logger.Error("vPoller module init failed", zap.Error(err))
		_ = logger.Sync()
		return nil, err
	}
	return m, nil
}

// New builds a Module from an already loaded configuration. cfg is used
// as given; Init is the path that validates it.
func New(cfg *config.Config, logger *zap.Logger) (*Module, error) {
	logger = logger.Named("vpoller")

	driver, err := transport.NewDriver(cfg.Transport, cfg.TimeoutDuration())
	if err != nil {
		return nil, err
	}

	m := &Module{cfg: cfg, logger: logger}

	instances, err := m.discover()
	if err != nil {
		m.closeRegistry()
		return nil, err
	}
	balancer, err := loadbalance.New(cfg.Discovery.Balancer, instances)
	if err != nil {
		m.closeRegistry()
		return nil, err
	}

	m.transport = transport.Open(driver, logger)
	m.client = client.New(m.transport, balancer, client.Options{
		Timeout: cfg.TimeoutDuration(),
		Retries: cfg.Retries,
	}, logger)

	common := middleware.Chain(
		middleware.RecoverMiddleware(logger),
		middleware.LoggingMiddleware(logger),
	)
	m.handlers = map[string]middleware.HandlerFunc{
		KeyVPoller: common(middleware.RateLimitMiddleware(cfg.RateLimit, cfg.Burst)(m.client.Call)),
		KeyEcho:    common(echo),
	}

	logger.Info("vPoller module initialized",
		zap.String("transport", driver.Name()),
		zap.Int("proxies", len(instances)),
		zap.String("balancer", balancer.Name()),
		zap.Duration("timeout", cfg.TimeoutDuration()),
		zap.Int("retries", cfg.Retries))
	return m, nil
}

// discover lists the proxies once. Without etcd endpoints the configured
// proxy is the only one.
func (m *Module) discover() ([]registry.ServiceInstance, error) {
	var reg registry.Registry
	service := m.cfg.Discovery.Service

	if m.cfg.Discovery.Enabled() {
		etcd, err := registry.NewEtcdRegistry(m.cfg.Discovery.EtcdEndpoints, m.cfg.DialTimeoutDuration(), m.logger)
		if err != nil {
			return nil, fmt.Errorf("connect to etcd: %w", err)
		}
		m.etcd = etcd
		reg = etcd
	} else {
		static := registry.NewStatic()
		if err := static.Register(context.Background(), service, registry.ServiceInstance{
			Addr:   m.cfg.Proxy,
			Weight: 1,
		}, 0); err != nil {
			return nil, err
		}
		reg = static
	}

	ctx, cancel := context.WithTimeout(context.Background(), m.cfg.DialTimeoutDuration())
	defer cancel()
	instances, err := reg.Discover(ctx, service)
	if err != nil {
		return nil, fmt.Errorf("discover %s: %w", service, err)
	}
	return instances, nil
}

func (m *Module) closeRegistry() error {
	if m.etcd == nil {
		return nil
	}
	err := m.etcd.Close()
	m.etcd = nil
	return err
}

// Items lists the keys the module serves.
func (m *Module) Items() []Item {
	return []Item{
		{Key: KeyVPoller, HaveParams: true, TestParams: []string{"about", "localhost"}},
		{Key: KeyEcho, HaveParams: true, TestParams: []string{"hello"}},
	}
}

// Handle runs one item invocation. It never returns nil.
func (m *Module) Handle(ctx context.Context, key string, params []string) *message.Result {
	h, ok := m.handlers[key]
	if !ok {
		return message.Failure(MsgUnsupportedKey)
	}
	return h(ctx, message.NewRequest(key, params...))
}

func echo(_ context.Context, req *message.Request) *message.Result {
	if len(req.Params) != 1 {
		return message.Failure(client.MsgInvalidArity)
	}
	return message.Success(req.Params[0])
}

// SetItemTimeout records the host's item timeout. The module does not cut
// calls short; it only warns when a call could outlive the host's patience.
func (m *Module) SetItemTimeout(d time.Duration) {
	m.itemTimeout.Store(int64(d))

	worst := client.Options{Timeout: m.cfg.TimeoutDuration(), Retries: m.cfg.Retries}.MaxCallDuration()
	if d > 0 && worst > d {
		m.logger.Warn("timeout x attempts exceeds the item timeout",
			zap.Duration("item_timeout", d),
			zap.Duration("worst_case", worst))
	}
}

func (m *Module) ItemTimeout() time.Duration {
	return time.Duration(m.itemTimeout.Load())
}

// Stats reports channel accounting of the transport context.
func (m *Module) Stats() transport.Stats {
	return m.transport.Stats()
}

// Uninit releases the transport context and the etcd client.
func (m *Module) Uninit() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	m.closed = true

	err := errors.Join(m.transport.Close(), m.closeRegistry())
	if err != nil {
		m.logger.Error("vPoller module shutdown", zap.Error(err))
	} else {
		m.logger.Info("vPoller module shut down", zap.Int64("channels", m.transport.Stats().Opened))
	}
	// Sync fails on terminals and pipes; nothing useful to do about it.
	_ = m.logger.Sync()
	return err
}
