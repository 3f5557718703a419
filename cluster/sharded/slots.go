package sharded

import "fmt"

// SlotCount is the size of the cluster hash slot space.
const SlotCount = 16384

// SlotRange is the half-open range [Start, End).
type SlotRange struct {
	Start int
	End   int
}

func (r SlotRange) Len() int { return r.End - r.Start }

func (r SlotRange) String() string {
	return fmt.Sprintf("[%d, %d)", r.Start, r.End)
}

// AssignSlots partitions [0, SlotCount) into n contiguous ranges of SlotCount/n slots each.
// The last range also takes the remainder.
func AssignSlots(n int) []SlotRange {
	if n <= 0 {
		return nil
	}
	size := SlotCount / n
	out := make([]SlotRange, n)
	for i := range out {
		out[i] = SlotRange{Start: i * size, End: (i + 1) * size}
	}
	out[n-1].End = SlotCount
	return out
}
