package app

import (
	"bytes"
	"context"
	"fmt"
	"net"
	"strconv"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/getpup/synthbuffer"
	"github.com/getpup/synthbuffer/config"
	"github.com/getpup/synthbuffer/internal/demo"
	"github.com/getpup/synthbuffer/store/memory"
	"github.com/getpup/synthbuffer/store/redis"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func memoryConfig() config.Config {
	cfg := config.Defaults()
	cfg.Namespace = "app-test"
	cfg.Store.Backend = config.BackendMemory
	cfg.Metrics.Enabled = false
	cfg.Log.Level = "debug"
	cfg.Pool.NumWorkers = 2
	cfg.Pool.TargetBufferSize = 3
	cfg.Pool.SleepInterval = 10 * time.Millisecond
	cfg.Monitor.Interval = 10 * time.Millisecond
	return cfg
}

func TestOpen_Memory(t *testing.T) {
	var logs bytes.Buffer
	a, err := Open(context.Background(), memoryConfig(), &logs)
	require.NoError(t, err)

	assert.IsType(t, &memory.Store{}, a.Store)
	assert.False(t, a.Tracing.Enabled())
	assert.Contains(t, logs.String(), "app opened")
	assert.Contains(t, logs.String(), "namespace=app-test")

	assert.NoError(t, a.Close(context.Background()))
}

func TestOpenStore_Redis(t *testing.T) {
	mr := miniredis.RunT(t)
	host, portStr, err := net.SplitHostPort(mr.Addr())
	require.NoError(t, err)
	port, err := strconv.Atoi(portStr)
	require.NoError(t, err)

	s, closeFn, err := OpenStore(context.Background(), config.StoreConfig{
		Backend: config.BackendRedis,
		Redis:   redis.Options{Host: host, Port: port},
	})
	require.NoError(t, err)
	defer func() { _ = closeFn() }()

	assert.IsType(t, &redis.Store{}, s)
	_, err = s.Push(context.Background(), "k", "v")
	require.NoError(t, err)
	assert.True(t, mr.Exists("k"))
}

func TestOpenStore_RedisUnreachable(t *testing.T) {
	mr := miniredis.RunT(t)
	addr := mr.Addr()
	mr.Close()

	host, portStr, _ := net.SplitHostPort(addr)
	port, _ := strconv.Atoi(portStr)

	_, _, err := OpenStore(context.Background(), config.StoreConfig{
		Backend: config.BackendRedis,
		Redis:   redis.Options{Host: host, Port: port},
	})
	assert.ErrorIs(t, err, synthbuffer.ErrStoreUnavailable)
}

func TestOpenStore_PostgresUnreachable(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, _, err := OpenStore(ctx, config.StoreConfig{
		Backend:  config.BackendPostgres,
		Postgres: config.PostgresConfig{DSN: "postgres://nobody@127.0.0.1:1/none?sslmode=disable&connect_timeout=1"},
	})
	assert.ErrorIs(t, err, synthbuffer.ErrStoreUnavailable)
}

func TestOpenStore_UnknownBackend(t *testing.T) {
	_, _, err := OpenStore(context.Background(), config.StoreConfig{Backend: "etcd"})
	assert.Error(t, err)
}

func TestNewService_RunsWithDemoProducer(t *testing.T) {
	a, err := Open(context.Background(), memoryConfig(), &bytes.Buffer{})
	require.NoError(t, err)
	defer func() { _ = a.Close(context.Background()) }()

	gen := demo.New(demo.Config{Latency: time.Millisecond})
	svc, err := a.NewService(gen.Produce, gen.Generate)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = svc.Run(ctx) }()

	require.Eventually(t, func() bool {
		n, err := svc.Queue().Len(ctx)
		return err == nil && n == 3
	}, 5*time.Second, 10*time.Millisecond)

	head := svc.Reader().Next(ctx)
	require.NotNil(t, head)
	assert.Len(t, head.LinkedIDs, a.Config.Variant.Count, fmt.Sprintf("head %s", head.ID))
}

func TestNewService_VariantsDisabled(t *testing.T) {
	cfg := memoryConfig()
	cfg.Variant.Count = 0

	a, err := Open(context.Background(), cfg, &bytes.Buffer{})
	require.NoError(t, err)

	gen := demo.New(demo.Config{})
	svc, err := a.NewService(gen.Produce, gen.Generate)
	require.NoError(t, err)
	assert.NotNil(t, svc)
}
