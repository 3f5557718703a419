package sharded

import (
	"context"
	"strings"

	"github.com/tobi-laa/embedded-valkey/internal/poll"
)

const clusterStateOK = "cluster_state:ok"

func (c *Cluster) setPhase(p Phase) {
	c.mut.Lock()
	c.phase = p
	c.mut.Unlock()
}

func (c *Cluster) fail(p Phase, port int, err error) error {
	c.setPhase(Failed)
	return &ClusterSetupError{Phase: p, Port: port, Err: err}
}

// converge meets every main node with the first one, gives each its slots, attaches the replicas
// and waits until a cluster client can read from the cluster.
func (c *Cluster) converge(ctx context.Context) error {
	log := c.log.Named("convergence")
	target := c.shards[0].MainNodePort
	ids := make(map[int]string, len(c.shards))

	c.mut.Lock()
	c.replicas = map[int][]int{}
	c.mut.Unlock()

	for i, s := range c.shards {
		port := s.MainNodePort
		err := func() error {
			client := c.connector.Connect(c.host, port)
			defer client.Close()

			c.setPhase(Meeting)
			if port != target {
				if err := client.ClusterMeet(ctx, c.host, target); err != nil {
					return c.fail(Meeting, port, err)
				}
			}
			id, err := client.ClusterMyID(ctx)
			if err != nil {
				return c.fail(Meeting, port, err)
			}
			ids[port] = id

			c.setPhase(AssigningSlots)
			r := c.slots[i]
			if err := client.ClusterAddSlotsRange(ctx, r.Start, r.End-1); err != nil {
				return c.fail(AssigningSlots, port, err)
			}
			log.Debugw("main node joined", "Shard", s.Name, "Port", port, "NodeID", id, "Slots", r.String())
			return nil
		}()
		if err != nil {
			return err
		}
	}

	c.setPhase(AttachingReplicas)
	for _, s := range c.shards {
		mainID := ids[s.MainNodePort]
		for _, port := range s.ReplicaPorts {
			if err := c.attachReplica(ctx, port, target, mainID); err != nil {
				return c.fail(AttachingReplicas, port, err)
			}
			c.mut.Lock()
			c.replicas[s.MainNodePort] = append(c.replicas[s.MainNodePort], port)
			c.mut.Unlock()
			log.Debugw("replica attached", "Shard", s.Name, "Port", port, "Main", s.MainNodePort)
		}
	}

	c.setPhase(AwaitingReady)
	err := poll.Until(ctx, c.interval, c.initTimeout, func(ctx context.Context) (bool, error) {
		if err := c.connector.ProbeCluster(ctx, c.host, target); err != nil {
			log.Debugw("cluster not ready yet", "Error", err)
			return false, nil
		}
		return true, nil
	})
	if err != nil {
		return c.fail(AwaitingReady, target, err)
	}
	c.setPhase(Ready)
	log.Infow("cluster ready", "Shards", len(c.shards))
	return nil
}

func (c *Cluster) attachReplica(ctx context.Context, port, target int, mainID string) error {
	client := c.connector.Connect(c.host, port)
	defer client.Close()

	if err := client.ClusterMeet(ctx, c.host, target); err != nil {
		return err
	}
	err := c.await(ctx, client.ClusterNodes, func(nodes string) bool {
		return strings.Contains(nodes, mainID)
	})
	if err != nil {
		return err
	}
	if err := client.ClusterReplicate(ctx, mainID); err != nil {
		return err
	}
	return c.await(ctx, client.ClusterInfo, func(info string) bool {
		return strings.Contains(info, clusterStateOK)
	})
}

// await polls query until check accepts its result. A failing query aborts the wait.
func (c *Cluster) await(ctx context.Context, query func(context.Context) (string, error), check func(string) bool) error {
	return poll.Until(ctx, c.interval, c.initTimeout, func(ctx context.Context) (bool, error) {
		out, err := query(ctx)
		if err != nil {
			return false, err
		}
		return check(out), nil
	})
}
