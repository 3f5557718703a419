// Package admin issues the cluster administration commands used to bring a sharded cluster together.
package admin

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	inet "github.com/tobi-laa/embedded-valkey/internal/net"
)

// Client talks to one node.
type Client interface {
	ClusterMeet(ctx context.Context, host string, port int) error
	ClusterMyID(ctx context.Context) (string, error)
	// ClusterAddSlotsRange assigns the inclusive slot range [min, max] to the node.
	ClusterAddSlotsRange(ctx context.Context, min, max int) error
	ClusterNodes(ctx context.Context) (string, error)
	ClusterInfo(ctx context.Context) (string, error)
	ClusterReplicate(ctx context.Context, nodeID string) error
	FlushAll(ctx context.Context) error
	ClusterResetSoft(ctx context.Context) error
	Close() error
}

// Connector creates clients for individual nodes and checks whether a cluster serves requests.
type Connector interface {
	Connect(host string, port int) Client
	// ProbeCluster reads a key through a cluster-aware client seeded with host:port.
	ProbeCluster(ctx context.Context, host string, port int) error
}

// ProbeKey is read by ProbeCluster. A missing key counts as success.
const ProbeKey = "embedded-valkey:probe"

// Redis is a Connector backed by go-redis.
type Redis struct {
	DialTimeout time.Duration
}

var _ Connector = (*Redis)(nil)

func NewRedis() *Redis {
	return &Redis{DialTimeout: 2 * time.Second}
}

func (r *Redis) Connect(host string, port int) Client {
	return &redisClient{c: redis.NewClient(&redis.Options{
		Addr:        inet.HostPort(host, port),
		DialTimeout: r.DialTimeout,
		// nodes are expected to answer immediately, retrying is left to the caller's poll loop
		MaxRetries: -1,
	})}
}

func (r *Redis) ProbeCluster(ctx context.Context, host string, port int) error {
	c := redis.NewClusterClient(&redis.ClusterOptions{
		Addrs:       []string{inet.HostPort(host, port)},
		DialTimeout: r.DialTimeout,
		MaxRetries:  -1,
	})
	defer c.Close()
	err := c.Get(ctx, ProbeKey).Err()
	if errors.Is(err, redis.Nil) {
		return nil
	}
	return err
}

type redisClient struct {
	c *redis.Client
}

func (r *redisClient) ClusterMeet(ctx context.Context, host string, port int) error {
	return r.c.ClusterMeet(ctx, host, strconv.Itoa(port)).Err()
}

func (r *redisClient) ClusterMyID(ctx context.Context) (string, error) {
	return r.c.Do(ctx, "cluster", "myid").Text()
}

func (r *redisClient) ClusterAddSlotsRange(ctx context.Context, min, max int) error {
	return r.c.ClusterAddSlotsRange(ctx, min, max).Err()
}

func (r *redisClient) ClusterNodes(ctx context.Context) (string, error) {
	return r.c.ClusterNodes(ctx).Result()
}

func (r *redisClient) ClusterInfo(ctx context.Context) (string, error) {
	return r.c.ClusterInfo(ctx).Result()
}

func (r *redisClient) ClusterReplicate(ctx context.Context, nodeID string) error {
	return r.c.ClusterReplicate(ctx, nodeID).Err()
}

func (r *redisClient) FlushAll(ctx context.Context) error {
	return r.c.FlushAll(ctx).Err()
}

func (r *redisClient) ClusterResetSoft(ctx context.Context) error {
	return r.c.ClusterResetSoft(ctx).Err()
}

func (r *redisClient) Close() error {
	return r.c.Close()
}
