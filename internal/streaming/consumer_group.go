// internal/streaming/consumer_group.go
package streaming

import "sync"

// ConsumerGroup shares a topic's partitions across its members: each
// partition's committed offset belongs to the group, not to an individual
// member, and at most one member polls a given partition at a time so
// that offset only ever advances from one place.
type ConsumerGroup struct {
	Name string

	mu             sync.Mutex
	partitionCount int
	members        []uint32          // client ids, in join order
	assignment     map[uint32]uint32 // partition id -> client id
}

func newConsumerGroup(name string, partitionCount int) *ConsumerGroup {
	return &ConsumerGroup{
		Name:           name,
		partitionCount: partitionCount,
		assignment:     make(map[uint32]uint32),
	}
}

// Join adds clientID to the group and recomputes partition assignment.
// Joining a member already in the group is a no-op.
func (g *ConsumerGroup) Join(clientID uint32) {
	g.mu.Lock()
	defer g.mu.Unlock()
	for _, m := range g.members {
		if m == clientID {
			return
		}
	}
	g.members = append(g.members, clientID)
	g.rebalanceLocked()
}

// Leave removes clientID from the group and recomputes partition
// assignment.
func (g *ConsumerGroup) Leave(clientID uint32) {
	g.mu.Lock()
	defer g.mu.Unlock()
	for i, m := range g.members {
		if m == clientID {
			g.members = append(g.members[:i], g.members[i+1:]...)
			break
		}
	}
	g.rebalanceLocked()
}

// rebalanceLocked assigns partitions to members round-robin, by join
// order, so reassignment on membership change is deterministic and atomic
// with respect to Assignment lookups.
func (g *ConsumerGroup) rebalanceLocked() {
	g.assignment = make(map[uint32]uint32)
	if len(g.members) == 0 {
		return
	}
	for partitionID := 0; partitionID < g.partitionCount; partitionID++ {
		member := g.members[partitionID%len(g.members)]
		g.assignment[uint32(partitionID)] = member
	}
}

// Assignment reports whether clientID currently owns partitionID within
// this group.
func (g *ConsumerGroup) Assignment(clientID, partitionID uint32) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	member, ok := g.assignment[partitionID]
	return ok && member == clientID
}

// Members returns a snapshot of the group's current membership.
func (g *ConsumerGroup) Members() []uint32 {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]uint32, len(g.members))
	copy(out, g.members)
	return out
}
