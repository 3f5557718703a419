package sharded

import (
	"context"
	"fmt"
	"testing"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tobi-laa/embedded-valkey/cluster/basic"
	"github.com/tobi-laa/embedded-valkey/internal/test"
	"github.com/tobi-laa/embedded-valkey/server"
)

func TestWriteAndReadThroughCluster(t *testing.T) {
	exe := test.Executable(t)
	ctx := context.Background()

	sc, err := NewBuilder(
		WithServerBuilder(server.NewBuilder(server.WithExecutable(exe), server.WithDataDir(t.TempDir()))),
		WithEphemeralPorts(),
		WithShard("shard1", 1),
		WithShard("shard2", 1),
		WithShard("shard3", 1),
	).Build(ctx)
	require.NoError(t, err)
	c := basic.New(sc)
	c.MustStart()

	assert.Len(t, sc.ReplicaPorts(), 3)
	client := redis.NewClusterClient(&redis.ClusterOptions{
		Addrs: []string{fmt.Sprintf("127.0.0.1:%d", sc.Ports()[4])},
	})
	defer client.Close()
	require.NoError(t, client.Set(ctx, "somekey", "somevalue", 0).Err())
	v, err := client.Get(ctx, "somekey").Result()
	require.NoError(t, err)
	assert.Equal(t, "somevalue", v)

	c.MustStop()
	assert.False(t, sc.Active())
	for _, n := range sc.nodes {
		assert.False(t, n.Active(), "node on port %d", n.Port())
	}
}
