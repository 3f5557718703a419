// Package ha builds sentinel-monitored replication groups.
package ha

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/tobi-laa/embedded-valkey/cluster"
	"github.com/tobi-laa/embedded-valkey/internal/logging"
	"github.com/tobi-laa/embedded-valkey/node"
	"github.com/tobi-laa/embedded-valkey/ports"
	"github.com/tobi-laa/embedded-valkey/server"
)

const loggerName = "ha_cluster"

var _ cluster.Topology = (*HighAvailability)(nil)

type groupDecl struct {
	name     string
	replicas int
}

type Builder struct {
	sentinelCount   int
	quorum          int
	downAfterMillis int
	failoverMillis  int
	parallelSyncs   int
	groups          []groupDecl
	sentinelPorts   ports.Allocator
	serverPorts     ports.Allocator
	server          *server.Builder
	log             *zap.SugaredLogger
}

type Option func(b *Builder)

// WithSentinelCount sets how many sentinels are started. Defaults to 1.
func WithSentinelCount(n int) Option {
	return func(b *Builder) {
		b.sentinelCount = n
	}
}

// WithQuorum sets how many sentinels must agree that a master is down. Defaults to 1.
func WithQuorum(q int) Option {
	return func(b *Builder) {
		b.quorum = q
	}
}

// WithReplicationGroup declares a master named name with the given number of replicas.
// Groups get their ports in declaration order.
func WithReplicationGroup(name string, replicas int) Option {
	return func(b *Builder) {
		b.groups = append(b.groups, groupDecl{name: name, replicas: replicas})
	}
}

// WithSentinelPorts sets the sentinel port allocator. Defaults to sequential ports from 26379.
func WithSentinelPorts(a ports.Allocator) Option {
	return func(b *Builder) {
		b.sentinelPorts = a
	}
}

// WithServerPorts sets the master and replica port allocator. Defaults to sequential ports from 6379.
func WithServerPorts(a ports.Allocator) Option {
	return func(b *Builder) {
		b.serverPorts = a
	}
}

// WithEphemeralPorts draws every port from the OS.
func WithEphemeralPorts() Option {
	return func(b *Builder) {
		b.sentinelPorts = ports.Ephemeral()
		b.serverPorts = ports.Ephemeral()
	}
}

// WithServerBuilder sets the builder used for sentinels, masters and replicas. Defaults to server.NewBuilder().
func WithServerBuilder(sb *server.Builder) Option {
	return func(b *Builder) {
		b.server = sb
	}
}

// WithDownAfterMillis sets how long a master must be unreachable before sentinels consider it down. Defaults to 60000.
func WithDownAfterMillis(ms int) Option {
	return func(b *Builder) {
		b.downAfterMillis = ms
	}
}

// WithFailoverTimeoutMillis sets the sentinel failover timeout. Defaults to 180000.
func WithFailoverTimeoutMillis(ms int) Option {
	return func(b *Builder) {
		b.failoverMillis = ms
	}
}

// WithParallelSyncs sets how many replicas resync with a new master at once. Defaults to 1.
func WithParallelSyncs(n int) Option {
	return func(b *Builder) {
		b.parallelSyncs = n
	}
}

// WithLogger sets the parent logger. Defaults to a production logger.
func WithLogger(l *zap.SugaredLogger) Option {
	return func(b *Builder) {
		b.log = l
	}
}

func NewBuilder(opts ...Option) *Builder {
	b := &Builder{
		sentinelCount:   1,
		quorum:          1,
		downAfterMillis: server.DefaultDownAfterMillis,
		failoverMillis:  server.DefaultFailoverTimeoutMillis,
		parallelSyncs:   server.DefaultParallelSyncs,
		sentinelPorts:   ports.Sequential(ports.DefaultSentinelPort),
		serverPorts:     ports.Sequential(ports.DefaultServerPort),
	}
	for _, o := range opts {
		o(b)
	}
	if b.log == nil {
		b.log = logging.Default(loggerName)
	} else {
		b.log = b.log.Named(loggerName)
	}
	if b.server == nil {
		b.server = server.NewBuilder(server.WithLogger(b.log))
	}
	return b
}

// Build allocates ports and creates every node. Nothing is started yet.
func (b *Builder) Build(ctx context.Context) (*HighAvailability, error) {
	if b.sentinelCount < 1 {
		return nil, errors.New("at least one sentinel must be configured")
	}
	if len(b.groups) == 0 {
		return nil, errors.New("at least one replication group must be configured")
	}
	if b.quorum < 1 || b.quorum > b.sentinelCount {
		return nil, fmt.Errorf("quorum must be between 1 and the sentinel count %d, got %d", b.sentinelCount, b.quorum)
	}

	ha := &HighAvailability{log: b.log}
	for _, g := range b.groups {
		group, err := cluster.NewReplicationGroup(g.name, b.serverPorts, g.replicas)
		if err != nil {
			return nil, err
		}
		ha.groups = append(ha.groups, group)
	}

	var monitors []server.Monitor
	for _, g := range ha.groups {
		monitors = append(monitors, server.Monitor{
			Name:                  g.Name,
			Host:                  b.server.Bind(),
			Port:                  g.MasterPort,
			Quorum:                b.quorum,
			DownAfterMillis:       b.downAfterMillis,
			FailoverTimeoutMillis: b.failoverMillis,
			ParallelSyncs:         b.parallelSyncs,
		})
	}
	for i := 0; i < b.sentinelCount; i++ {
		port, err := b.sentinelPorts.Next()
		if err != nil {
			return nil, fmt.Errorf("allocating sentinel port: %w", err)
		}
		n, err := b.server.BuildSentinel(ctx, port, monitors...)
		if err != nil {
			return nil, fmt.Errorf("building sentinel on port %d: %w", port, err)
		}
		ha.sentinels = append(ha.sentinels, n)
	}

	for _, g := range ha.groups {
		master, err := b.server.Build(ctx, g.MasterPort)
		if err != nil {
			return nil, fmt.Errorf("building master %q: %w", g.Name, err)
		}
		ha.servers = append(ha.servers, master)
		for _, port := range g.ReplicaPorts {
			replica, err := b.server.BuildReplica(ctx, port, b.server.Bind(), g.MasterPort)
			if err != nil {
				return nil, fmt.Errorf("building replica of %q: %w", g.Name, err)
			}
			ha.servers = append(ha.servers, replica)
		}
	}
	return ha, nil
}

// HighAvailability is a set of sentinels watching one or more replication groups.
type HighAvailability struct {
	sentinels []*node.Node
	servers   []*node.Node
	groups    []cluster.ReplicationGroup
	log       *zap.SugaredLogger
}

func (h *HighAvailability) nodes() []*node.Node {
	return append(append([]*node.Node(nil), h.sentinels...), h.servers...)
}

// Start starts all sentinels, then all servers. If a node fails to start, the nodes started so far are stopped.
func (h *HighAvailability) Start(ctx context.Context) error {
	var started []*node.Node
	for _, n := range h.nodes() {
		if err := n.Start(ctx); err != nil {
			h.log.Errorw("node failed to start, stopping the others", "Port", n.Port(), "Error", err)
			if stopErr := stopAll(context.Background(), started); stopErr != nil {
				h.log.Warnw("errors stopping nodes after failed start", "Error", stopErr)
			}
			return fmt.Errorf("starting node on port %d: %w", n.Port(), err)
		}
		started = append(started, n)
	}
	h.log.Infow("started", "Sentinels", h.SentinelPorts(), "Servers", h.ServerPorts())
	return nil
}

// Stop stops sentinels first, then servers. Every node is attempted, the failures are combined.
func (h *HighAvailability) Stop(ctx context.Context) error {
	err := stopAll(ctx, h.nodes())
	if err != nil {
		h.log.Errorw("errors stopping nodes", "Error", err)
		return fmt.Errorf("stopping high availability topology: %w", err)
	}
	return nil
}

func stopAll(ctx context.Context, nodes []*node.Node) error {
	var errs error
	for _, n := range nodes {
		errs = multierr.Append(errs, n.Stop(ctx))
	}
	return errs
}

func (h *HighAvailability) Active() bool {
	for _, n := range h.nodes() {
		if !n.Active() {
			return false
		}
	}
	return true
}

// Ports returns the sentinel ports followed by the server ports.
func (h *HighAvailability) Ports() []int {
	return append(h.SentinelPorts(), h.ServerPorts()...)
}

func (h *HighAvailability) SentinelPorts() []int {
	return portsOf(h.sentinels)
}

// ServerPorts returns each group's master port followed by its replica ports.
func (h *HighAvailability) ServerPorts() []int {
	return portsOf(h.servers)
}

func (h *HighAvailability) Groups() []cluster.ReplicationGroup {
	return append([]cluster.ReplicationGroup(nil), h.groups...)
}

func portsOf(nodes []*node.Node) []int {
	out := make([]int, 0, len(nodes))
	for _, n := range nodes {
		out = append(out, n.Port())
	}
	return out
}
