package sharded

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/tobi-laa/embedded-valkey/admin"
)

// fakeConnector records the admin commands sent to each port and answers from an in-memory view.
type fakeConnector struct {
	mut sync.Mutex
	log []string
	// fail makes the named command fail on the given port, e.g. "6381 CLUSTER MEET".
	fail map[string]error
	// nodesVisibleAfter is how many CLUSTER NODES calls a replica needs before it sees the main node.
	nodesVisibleAfter int
	// okAfter is how many CLUSTER INFO calls a replica needs before reporting cluster_state:ok.
	okAfter int
	// probeOKAfter is how many probes fail before the cluster reads succeed. Negative means never.
	probeOKAfter int

	nodesCalls map[int]int
	infoCalls  map[int]int
	probes     int
}

func newFakeConnector() *fakeConnector {
	return &fakeConnector{
		fail:       map[string]error{},
		nodesCalls: map[int]int{},
		infoCalls:  map[int]int{},
	}
}

var _ admin.Connector = (*fakeConnector)(nil)

func (f *fakeConnector) Connect(host string, port int) admin.Client {
	return &fakeClient{f: f, port: port}
}

func (f *fakeConnector) ProbeCluster(ctx context.Context, host string, port int) error {
	f.mut.Lock()
	defer f.mut.Unlock()
	f.probes++
	if f.probeOKAfter < 0 || f.probes <= f.probeOKAfter {
		return fmt.Errorf("CLUSTERDOWN The cluster is down")
	}
	return nil
}

func (f *fakeConnector) record(port int, cmd string) error {
	f.mut.Lock()
	defer f.mut.Unlock()
	entry := fmt.Sprintf("%d %s", port, cmd)
	f.log = append(f.log, entry)
	for k, err := range f.fail {
		if strings.HasPrefix(entry, k) {
			return err
		}
	}
	return nil
}

func (f *fakeConnector) commands() []string {
	f.mut.Lock()
	defer f.mut.Unlock()
	return append([]string(nil), f.log...)
}

func nodeID(port int) string {
	return fmt.Sprintf("id-%d", port)
}

type fakeClient struct {
	f    *fakeConnector
	port int
}

func (c *fakeClient) ClusterMeet(ctx context.Context, host string, port int) error {
	return c.f.record(c.port, fmt.Sprintf("CLUSTER MEET %s %d", host, port))
}

func (c *fakeClient) ClusterMyID(ctx context.Context) (string, error) {
	return nodeID(c.port), c.f.record(c.port, "CLUSTER MYID")
}

func (c *fakeClient) ClusterAddSlotsRange(ctx context.Context, min, max int) error {
	return c.f.record(c.port, fmt.Sprintf("CLUSTER ADDSLOTSRANGE %d %d", min, max))
}

func (c *fakeClient) ClusterNodes(ctx context.Context) (string, error) {
	if err := c.f.record(c.port, "CLUSTER NODES"); err != nil {
		return "", err
	}
	c.f.mut.Lock()
	defer c.f.mut.Unlock()
	c.f.nodesCalls[c.port]++
	if c.f.nodesCalls[c.port] <= c.f.nodesVisibleAfter {
		return nodeID(c.port) + " 127.0.0.1:" + fmt.Sprint(c.port) + " myself,master - 0 0 0 connected\n", nil
	}
	var sb strings.Builder
	for p := 6379; p < 6400; p++ {
		fmt.Fprintf(&sb, "%s 127.0.0.1:%d master - 0 0 0 connected\n", nodeID(p), p)
	}
	return sb.String(), nil
}

func (c *fakeClient) ClusterInfo(ctx context.Context) (string, error) {
	if err := c.f.record(c.port, "CLUSTER INFO"); err != nil {
		return "", err
	}
	c.f.mut.Lock()
	defer c.f.mut.Unlock()
	c.f.infoCalls[c.port]++
	if c.f.infoCalls[c.port] <= c.f.okAfter {
		return "cluster_state:fail\r\ncluster_slots_assigned:16384\r\n", nil
	}
	return "cluster_state:ok\r\ncluster_slots_assigned:16384\r\n", nil
}

func (c *fakeClient) ClusterReplicate(ctx context.Context, id string) error {
	return c.f.record(c.port, "CLUSTER REPLICATE "+id)
}

func (c *fakeClient) FlushAll(ctx context.Context) error {
	return c.f.record(c.port, "FLUSHALL")
}

func (c *fakeClient) ClusterResetSoft(ctx context.Context) error {
	return c.f.record(c.port, "CLUSTER RESET SOFT")
}

func (c *fakeClient) Close() error { return nil }
