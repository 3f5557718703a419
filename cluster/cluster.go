package cluster

import (
	"context"
	"fmt"

	"github.com/tobi-laa/embedded-valkey/ports"
)

// Topology is a set of nodes that is started and stopped as one unit.
// Start either leaves every node running or stops whatever it started before returning the error.
// Topology implementations are generally not goroutine-safe.
type Topology interface {
	// Start starts all nodes. Generally this returns once the topology is ready to use.
	Start(ctx context.Context) error

	// Stop stops all nodes, attempting every node even if some fail.
	Stop(ctx context.Context) error

	// Active reports whether every node is running.
	Active() bool

	// Ports lists the ports of every node, in start order.
	Ports() []int
}

// ReplicationGroup is a master and its replicas, monitored as a unit by sentinels.
type ReplicationGroup struct {
	Name         string
	MasterPort   int
	ReplicaPorts []int
}

// NewReplicationGroup allocates the master port first, then one port per replica.
func NewReplicationGroup(name string, alloc ports.Allocator, replicas int) (ReplicationGroup, error) {
	main, rs, err := allocate(alloc, replicas)
	if err != nil {
		return ReplicationGroup{}, fmt.Errorf("allocating ports for replication group %q: %w", name, err)
	}
	return ReplicationGroup{Name: name, MasterPort: main, ReplicaPorts: rs}, nil
}

// Ports returns the master port followed by the replica ports.
func (g ReplicationGroup) Ports() []int {
	return append([]int{g.MasterPort}, g.ReplicaPorts...)
}

// Shard is a main node and its replicas, owning one slot range of a sharded cluster.
type Shard struct {
	Name         string
	MainNodePort int
	ReplicaPorts []int
}

// NewShard allocates the main node port first, then one port per replica.
func NewShard(name string, alloc ports.Allocator, replicas int) (Shard, error) {
	main, rs, err := allocate(alloc, replicas)
	if err != nil {
		return Shard{}, fmt.Errorf("allocating ports for shard %q: %w", name, err)
	}
	return Shard{Name: name, MainNodePort: main, ReplicaPorts: rs}, nil
}

// Ports returns the main node port followed by the replica ports.
func (s Shard) Ports() []int {
	return append([]int{s.MainNodePort}, s.ReplicaPorts...)
}

func allocate(alloc ports.Allocator, replicas int) (int, []int, error) {
	if replicas < 0 {
		return 0, nil, fmt.Errorf("replica count must not be negative, got %d", replicas)
	}
	all, err := ports.Take(alloc, replicas+1)
	if err != nil {
		return 0, nil, err
	}
	return all[0], all[1:], nil
}
