package registry

import (
	"context"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func TestStaticRegistry(t *testing.T) {
	ctx := context.Background()
	reg := NewStatic()

	_, err := reg.Discover(ctx, "vpoller-proxy")
	assert.ErrorIs(t, err, ErrNoInstances)

	require.NoError(t, reg.Register(ctx, "vpoller-proxy", ServiceInstance{Addr: "tcp://a:10123", Weight: 1}, 0))
	require.NoError(t, reg.Register(ctx, "vpoller-proxy", ServiceInstance{Addr: "tcp://b:10123", Weight: 1}, 0))
	require.NoError(t, reg.Register(ctx, "vpoller-proxy", ServiceInstance{Addr: "tcp://a:10123", Weight: 5}, 0))

	instances, err := reg.Discover(ctx, "vpoller-proxy")
	require.NoError(t, err)
	require.Len(t, instances, 2, "re-registering an address replaces it")
	assert.Equal(t, 5, instances[0].Weight)

	require.NoError(t, reg.Deregister(ctx, "vpoller-proxy", "tcp://a:10123"))
	instances, err = reg.Discover(ctx, "vpoller-proxy")
	require.NoError(t, err)
	require.Len(t, instances, 1)
	assert.Equal(t, "tcp://b:10123", instances[0].Addr)
}

// Needs a running etcd, e.g. VPOLLER_ETCD_ENDPOINTS=127.0.0.1:2379.
func TestEtcdRegisterAndDiscover(t *testing.T) {
	endpoints := os.Getenv("VPOLLER_ETCD_ENDPOINTS")
	if endpoints == "" {
		t.Skip("VPOLLER_ETCD_ENDPOINTS not set")
	}

	reg, err := NewEtcdRegistry(strings.Split(endpoints, ","), 2*time.Second, zaptest.NewLogger(t))
	require.NoError(t, err)
	defer reg.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	service := "vpoller-test-" + strings.ReplaceAll(t.Name(), "/", "-")
	inst1 := ServiceInstance{Addr: "tcp://127.0.0.1:8001", Weight: 10, Version: "0.5"}
	inst2 := ServiceInstance{Addr: "tcp://127.0.0.1:8002", Weight: 5, Version: "0.5"}

	require.NoError(t, reg.Register(ctx, service, inst1, 10))
	require.NoError(t, reg.Register(ctx, service, inst2, 10))

	instances, err := reg.Discover(ctx, service)
	require.NoError(t, err)
	assert.Len(t, instances, 2)

	require.NoError(t, reg.Deregister(ctx, service, inst1.Addr))

	instances, err = reg.Discover(ctx, service)
	require.NoError(t, err)
	require.Len(t, instances, 1)
	assert.Equal(t, inst2, instances[0])

	require.NoError(t, reg.Deregister(ctx, service, inst2.Addr))
	_, err = reg.Discover(ctx, service)
	assert.ErrorIs(t, err, ErrNoInstances)
}
