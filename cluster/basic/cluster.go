package basic

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/tobi-laa/embedded-valkey/cluster"
)

// Cluster wraps a cluster.Topology with convenience functionality.
// The cluster.Topology interface is designed for minimal implementation footprint.
// Cluster adds logging, a bound context and Must variants to make it easier to use from tests.
type Cluster struct {
	Topology cluster.Topology
	Log      *zap.SugaredLogger
	Ctx      context.Context
}

func (c *Cluster) WithLogger(l *zap.SugaredLogger) *Cluster {
	c.Log = l.Named(loggerName)
	return c
}

func (c *Cluster) Context(ctx context.Context) *Cluster {
	newC := *c
	newC.Ctx = ctx
	return &newC
}

func New(t cluster.Topology) *Cluster {
	return &Cluster{
		Topology: t,
		Log:      defaultLogger,
		Ctx:      context.Background(),
	}
}

func (c *Cluster) Start() error {
	start := time.Now()
	err := c.Topology.Start(c.Ctx)
	if err != nil {
		c.Log.Errorw("topology failed to start", "Ports", c.Topology.Ports(), "Error", err)
		return err
	}
	c.Log.Debugw("topology started", "Ports", c.Topology.Ports(), "Duration", time.Since(start))
	return nil
}

func (c *Cluster) MustStart() {
	Must(c.Start())
}

func (c *Cluster) Stop() error {
	err := c.Topology.Stop(c.Ctx)
	if err != nil {
		c.Log.Errorw("topology failed to stop", "Ports", c.Topology.Ports(), "Error", err)
	}
	return err
}

func (c *Cluster) MustStop() {
	Must(c.Stop())
}

func (c *Cluster) Active() bool {
	return c.Topology.Active()
}

func (c *Cluster) Ports() []int {
	return c.Topology.Ports()
}
