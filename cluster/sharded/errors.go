package sharded

import "fmt"

// Phase is a step of bringing a sharded cluster together.
type Phase int

const (
	NotStarted Phase = iota
	Meeting
	AssigningSlots
	AttachingReplicas
	AwaitingReady
	Ready
	Failed
)

func (p Phase) String() string {
	switch p {
	case NotStarted:
		return "not started"
	case Meeting:
		return "meeting"
	case AssigningSlots:
		return "assigning slots"
	case AttachingReplicas:
		return "attaching replicas"
	case AwaitingReady:
		return "awaiting ready"
	case Ready:
		return "ready"
	case Failed:
		return "failed"
	}
	return fmt.Sprintf("Phase(%d)", int(p))
}

// ClusterSetupError reports the step that failed while the cluster was being set up.
// By the time it's returned every node of the cluster has been stopped.
type ClusterSetupError struct {
	Phase Phase
	// Port is the node the failing step was talking to.
	Port int
	Err  error
}

func (e *ClusterSetupError) Error() string {
	return fmt.Sprintf("cluster setup failed while %s (node on port %d): %s", e.Phase, e.Port, e.Err)
}

func (e *ClusterSetupError) Unwrap() error { return e.Err }
