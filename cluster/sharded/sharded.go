// Package sharded builds slot-sharded clusters and drives them to a queryable state.
package sharded

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/tobi-laa/embedded-valkey/admin"
	"github.com/tobi-laa/embedded-valkey/cluster"
	"github.com/tobi-laa/embedded-valkey/conf"
	"github.com/tobi-laa/embedded-valkey/internal/logging"
	"github.com/tobi-laa/embedded-valkey/node"
	"github.com/tobi-laa/embedded-valkey/ports"
	"github.com/tobi-laa/embedded-valkey/server"
)

const loggerName = "sharded_cluster"

const (
	DefaultInitializationTimeout = 20 * time.Second
	DefaultPollInterval          = 300 * time.Millisecond
	DefaultNodeTimeoutMillis     = 5000
)

var _ cluster.Topology = (*Cluster)(nil)

type shardDecl struct {
	name     string
	replicas int
}

type Builder struct {
	shards      []shardDecl
	ports       ports.Allocator
	initTimeout time.Duration
	interval    time.Duration
	nodeTimeout int
	connector   admin.Connector
	server      *server.Builder
	log         *zap.SugaredLogger
}

type Option func(b *Builder)

// WithShard declares a shard with the given number of replicas. Shards get their ports in declaration order.
func WithShard(name string, replicas int) Option {
	return func(b *Builder) {
		b.shards = append(b.shards, shardDecl{name: name, replicas: replicas})
	}
}

// WithPorts sets the port allocator. Defaults to sequential ports from 6379.
// Ports must stay below 55536 so the cluster bus port fits.
func WithPorts(a ports.Allocator) Option {
	return func(b *Builder) {
		b.ports = a
	}
}

// WithEphemeralPorts draws ports from the OS, below ports.ClusterMaxPortExclusive.
func WithEphemeralPorts() Option {
	return func(b *Builder) {
		b.ports = ports.EphemeralInClusterRange()
	}
}

// WithInitializationTimeout bounds each wait while the cluster comes together. Defaults to 20s.
func WithInitializationTimeout(d time.Duration) Option {
	return func(b *Builder) {
		b.initTimeout = d
	}
}

// WithPollInterval sets how often waits check their condition. Defaults to 300ms.
func WithPollInterval(d time.Duration) Option {
	return func(b *Builder) {
		b.interval = d
	}
}

// WithNodeTimeoutMillis sets cluster-node-timeout on every node. Defaults to 5000.
func WithNodeTimeoutMillis(ms int) Option {
	return func(b *Builder) {
		b.nodeTimeout = ms
	}
}

// WithConnector sets how nodes are administered. Defaults to admin.NewRedis().
func WithConnector(c admin.Connector) Option {
	return func(b *Builder) {
		b.connector = c
	}
}

// WithServerBuilder sets the builder used for main nodes and replicas. Defaults to server.NewBuilder().
func WithServerBuilder(sb *server.Builder) Option {
	return func(b *Builder) {
		b.server = sb
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
		ports:       ports.Sequential(ports.DefaultServerPort),
		initTimeout: DefaultInitializationTimeout,
		interval:    DefaultPollInterval,
		nodeTimeout: DefaultNodeTimeoutMillis,
	}
	for _, o := range opts {
		o(b)
	}
	if b.log == nil {
		b.log = logging.Default(loggerName)
	} else {
		b.log = b.log.Named(loggerName)
	}
	if b.connector == nil {
		b.connector = admin.NewRedis()
	}
	if b.server == nil {
		b.server = server.NewBuilder(server.WithLogger(b.log))
	}
	return b
}

func (b *Builder) nodeConfig(role string, port int) []conf.Directive {
	return []conf.Directive{
		conf.D(conf.ClusterEnabled, "yes"),
		conf.D(conf.ClusterConfigFile, fmt.Sprintf("nodes-%s-%d.conf", role, port)),
		conf.D(conf.ClusterNodeTimeout, strconv.Itoa(b.nodeTimeout)),
		conf.D(conf.AppendOnly, "no"),
	}
}

// Build allocates ports and creates every node. Nothing is started yet.
func (b *Builder) Build(ctx context.Context) (*Cluster, error) {
	if len(b.shards) == 0 {
		return nil, errors.New("at least one shard must be configured")
	}
	c := &Cluster{
		host:        b.server.Bind(),
		connector:   b.connector,
		initTimeout: b.initTimeout,
		interval:    b.interval,
		log:         b.log,
		nodesByPort: map[int]*node.Node{},
	}
	for _, d := range b.shards {
		s, err := cluster.NewShard(d.name, b.ports, d.replicas)
		if err != nil {
			return nil, err
		}
		for _, p := range s.Ports() {
			if p+ports.BusPortOffset > 65535 {
				return nil, fmt.Errorf("port %d of shard %q leaves no room for its cluster bus port", p, s.Name)
			}
		}
		c.shards = append(c.shards, s)
	}
	c.slots = AssignSlots(len(c.shards))

	for _, s := range c.shards {
		main, err := b.server.Build(ctx, s.MainNodePort, b.nodeConfig("main", s.MainNodePort)...)
		if err != nil {
			return nil, fmt.Errorf("building main node of shard %q: %w", s.Name, err)
		}
		c.add(main)
		for _, p := range s.ReplicaPorts {
			replica, err := b.server.Build(ctx, p, b.nodeConfig("replica", p)...)
			if err != nil {
				return nil, fmt.Errorf("building replica of shard %q: %w", s.Name, err)
			}
			c.add(replica)
		}
	}
	return c, nil
}

// Cluster is a set of shards that share the hash slot space.
type Cluster struct {
	host        string
	connector   admin.Connector
	initTimeout time.Duration
	interval    time.Duration
	log         *zap.SugaredLogger

	shards      []cluster.Shard
	slots       []SlotRange
	nodes       []*node.Node
	nodesByPort map[int]*node.Node

	mut      sync.Mutex
	phase    Phase
	replicas map[int][]int
}

func (c *Cluster) add(n *node.Node) {
	c.nodes = append(c.nodes, n)
	c.nodesByPort[n.Port()] = n
}

// Start starts every node and then joins them into one cluster.
// On failure every node is stopped before the error is returned. Starting a running cluster does nothing.
func (c *Cluster) Start(ctx context.Context) error {
	if c.Active() && c.Phase() == Ready {
		return nil
	}
	for _, n := range c.nodes {
		if err := n.Start(ctx); err != nil {
			c.log.Errorw("node failed to start, stopping the others", "Port", n.Port(), "Error", err)
			c.rollback()
			return fmt.Errorf("starting node on port %d: %w", n.Port(), err)
		}
	}
	if err := c.converge(ctx); err != nil {
		c.log.Errorw("cluster setup failed, stopping all nodes", "Error", err)
		c.rollback()
		return err
	}
	c.log.Infow("started", "Ports", c.Ports())
	return nil
}

func (c *Cluster) rollback() {
	if err := c.stopNodes(context.Background()); err != nil {
		c.log.Warnw("errors stopping nodes during rollback", "Error", err)
	}
}

// Stop flushes and soft-resets every running main node, then stops all nodes.
// Every step is attempted, the failures are combined.
func (c *Cluster) Stop(ctx context.Context) error {
	var errs error
	for _, s := range c.shards {
		if !c.nodesByPort[s.MainNodePort].Active() {
			continue
		}
		if err := c.reset(ctx, s.MainNodePort); err != nil {
			c.log.Errorw("failed to flush main node", "Port", s.MainNodePort, "Error", err)
			errs = multierr.Append(errs, fmt.Errorf("resetting main node on port %d: %w", s.MainNodePort, err))
		}
	}
	errs = multierr.Append(errs, c.stopNodes(ctx))
	if errs != nil {
		return fmt.Errorf("stopping sharded cluster: %w", errs)
	}
	return nil
}

func (c *Cluster) reset(ctx context.Context, port int) error {
	client := c.connector.Connect(c.host, port)
	defer client.Close()
	if err := client.FlushAll(ctx); err != nil {
		return err
	}
	return client.ClusterResetSoft(ctx)
}

func (c *Cluster) stopNodes(ctx context.Context) error {
	var errs error
	for _, n := range c.nodes {
		if err := n.Stop(ctx); err != nil {
			c.log.Errorw("failed to stop node", "Port", n.Port(), "Error", err)
			errs = multierr.Append(errs, err)
		}
	}
	return errs
}

func (c *Cluster) Active() bool {
	for _, n := range c.nodes {
		if !n.Active() {
			return false
		}
	}
	return true
}

// Ports returns each shard's main node port followed by its replica ports, in declaration order.
func (c *Cluster) Ports() []int {
	out := make([]int, 0, len(c.nodes))
	for _, n := range c.nodes {
		out = append(out, n.Port())
	}
	return out
}

func (c *Cluster) MainNodePorts() []int {
	out := make([]int, 0, len(c.shards))
	for _, s := range c.shards {
		out = append(out, s.MainNodePort)
	}
	return out
}

func (c *Cluster) Shards() []cluster.Shard {
	return append([]cluster.Shard(nil), c.shards...)
}

// Slots maps each main node port to the slot range it owns.
func (c *Cluster) Slots() map[int]SlotRange {
	out := make(map[int]SlotRange, len(c.shards))
	for i, s := range c.shards {
		out[s.MainNodePort] = c.slots[i]
	}
	return out
}

// ReplicaPorts maps each main node port to the replicas attached to it so far.
func (c *Cluster) ReplicaPorts() map[int][]int {
	c.mut.Lock()
	defer c.mut.Unlock()
	out := make(map[int][]int, len(c.replicas))
	for k, v := range c.replicas {
		out[k] = append([]int(nil), v...)
	}
	return out
}

// Phase returns how far the last setup got, NotStarted before the first Start.
func (c *Cluster) Phase() Phase {
	c.mut.Lock()
	defer c.mut.Unlock()
	return c.phase
}
