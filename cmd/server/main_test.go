package main

import (
	"context"
	"courier-dispatch-service/internal/config"
	"net"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

// closedAddr returns a local address nothing is listening on.
func closedAddr(t *testing.T) string {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := l.Addr().String()
	require.NoError(t, l.Close())
	return addr
}

func TestSnapshotCacheUnreachableRedisIsNotFatal(t *testing.T) {
	core, logs := observer.New(zap.WarnLevel)
	cfg := &config.Config{}
	cfg.Redis.Addr = closedAddr(t)

	snapCache, closeFn := newSnapshotCache(context.Background(), cfg, zap.New(core))
	require.NotNil(t, closeFn)
	closeFn()

	assert.Nil(t, snapCache)
	assert.Equal(t, 1, logs.FilterMessage("redis unavailable, condition snapshots are not cached").Len())
}

func TestSnapshotCacheUsesReachableRedis(t *testing.T) {
	mr := miniredis.RunT(t)
	cfg := &config.Config{}
	cfg.Redis.Addr = mr.Addr()

	snapCache, closeFn := newSnapshotCache(context.Background(), cfg, zap.NewNop())
	defer closeFn()
	assert.NotNil(t, snapCache)
}

func TestOpenDatabaseUnreachableIsNotFatal(t *testing.T) {
	core, logs := observer.New(zap.WarnLevel)
	cfg := &config.Config{}
	cfg.Database.URL = "postgres://dispatch@" + closedAddr(t) + "/dispatch?sslmode=disable&connect_timeout=2"

	assert.Nil(t, openDatabase(context.Background(), cfg, zap.New(core)))
	assert.Equal(t, 1, logs.FilterMessage("database unavailable, road legs are not cached").Len())
}

func TestNotifierWithoutBrokersOnlyLogs(t *testing.T) {
	n, closeFn := newNotifier(&config.Config{}, zap.NewNop())
	defer closeFn()
	require.NotNil(t, n)
}
