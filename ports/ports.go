// Package ports hands out TCP ports for the nodes of a topology.
package ports

import (
	"errors"
	"fmt"
	"sync"

	inet "github.com/tobi-laa/embedded-valkey/internal/net"
)

const (
	// DefaultServerPort is the port a server listens on when nothing else is configured.
	DefaultServerPort = 6379
	// DefaultSentinelPort is the port a sentinel listens on when nothing else is configured.
	DefaultSentinelPort = 26379

	// BusPortOffset is added to a cluster node's port to get its cluster bus port.
	BusPortOffset = 10000
	// ClusterMaxPortExclusive bounds ports handed to cluster nodes so the bus port stays valid, with some margin.
	ClusterMaxPortExclusive = 50000
)

// ErrExhausted is returned by a predefined allocator once all of its ports were handed out.
var ErrExhausted = errors.New("ran out of ports")

// Allocator produces the port for the next node.
type Allocator interface {
	Next() (int, error)
}

// AllocatorFunc adapts a function to an Allocator.
type AllocatorFunc func() (int, error)

func (f AllocatorFunc) Next() (int, error) { return f() }

// Ephemeral returns an allocator that asks the OS for a free port on every call.
// The port is released before it's returned, so a collision with another process is possible but rare.
func Ephemeral() Allocator {
	return AllocatorFunc(inet.GetEphemeralTCPPort)
}

// EphemeralInClusterRange is like Ephemeral, but retries until the port is below ClusterMaxPortExclusive.
func EphemeralInClusterRange() Allocator {
	return ephemeralBelow(ClusterMaxPortExclusive, inet.GetEphemeralTCPPort)
}

func ephemeralBelow(max int, next func() (int, error)) Allocator {
	return AllocatorFunc(func() (int, error) {
		for {
			port, err := next()
			if err != nil {
				return 0, err
			}
			if port < max {
				return port, nil
			}
		}
	})
}

// Sequential returns base, base+1, base+2, ... It is safe for concurrent use.
func Sequential(base int) Allocator {
	return &sequential{next: base}
}

type sequential struct {
	mut  sync.Mutex
	next int
}

func (s *sequential) Next() (int, error) {
	s.mut.Lock()
	defer s.mut.Unlock()
	if s.next > 65535 {
		return 0, fmt.Errorf("sequence passed the highest port: %w", ErrExhausted)
	}
	p := s.next
	s.next++
	return p, nil
}

// Predefined returns the given ports in order and then fails with ErrExhausted.
func Predefined(ports ...int) Allocator {
	cp := make([]int, len(ports))
	copy(cp, ports)
	return &predefined{ports: cp}
}

type predefined struct {
	mut   sync.Mutex
	ports []int
	i     int
}

func (p *predefined) Next() (int, error) {
	p.mut.Lock()
	defer p.mut.Unlock()
	if p.i >= len(p.ports) {
		return 0, fmt.Errorf("%d predefined ports used up: %w", len(p.ports), ErrExhausted)
	}
	port := p.ports[p.i]
	p.i++
	return port, nil
}

// Take draws n ports from a.
func Take(a Allocator, n int) ([]int, error) {
	out := make([]int, 0, n)
	for i := 0; i < n; i++ {
		p, err := a.Next()
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, nil
}
