package server

import (
	"strconv"

	"github.com/tobi-laa/embedded-valkey/conf"
)

// Sentinel monitor defaults, matching the server's own defaults.
const (
	DefaultDownAfterMillis       = 60000
	DefaultFailoverTimeoutMillis = 180000
	DefaultParallelSyncs         = 1
)

// Monitor describes one master a sentinel watches.
type Monitor struct {
	Name   string
	Host   string
	Port   int
	Quorum int

	DownAfterMillis       int
	FailoverTimeoutMillis int
	ParallelSyncs         int
}

// NewMonitor returns a monitor with the default timings.
func NewMonitor(name, host string, port, quorum int) Monitor {
	return Monitor{
		Name:                  name,
		Host:                  host,
		Port:                  port,
		Quorum:                quorum,
		DownAfterMillis:       DefaultDownAfterMillis,
		FailoverTimeoutMillis: DefaultFailoverTimeoutMillis,
		ParallelSyncs:         DefaultParallelSyncs,
	}
}

// Directives renders the sentinel config lines for m. Zero timings fall back to the defaults.
func (m Monitor) Directives() []conf.Directive {
	downAfter := orDefault(m.DownAfterMillis, DefaultDownAfterMillis)
	failover := orDefault(m.FailoverTimeoutMillis, DefaultFailoverTimeoutMillis)
	syncs := orDefault(m.ParallelSyncs, DefaultParallelSyncs)
	return []conf.Directive{
		conf.D(conf.Sentinel, "monitor", m.Name, m.Host, strconv.Itoa(m.Port), strconv.Itoa(m.Quorum)),
		conf.D(conf.Sentinel, "down-after-milliseconds", m.Name, strconv.Itoa(downAfter)),
		conf.D(conf.Sentinel, "failover-timeout", m.Name, strconv.Itoa(failover)),
		conf.D(conf.Sentinel, "parallel-syncs", m.Name, strconv.Itoa(syncs)),
	}
}

func orDefault(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}
