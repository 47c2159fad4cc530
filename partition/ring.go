package partition

import (
	"fmt"

	"github.com/buraksezer/consistent"
	"github.com/mohitkumar/agentorchy/logger"
	"github.com/spaolacci/murmur3"
	"go.uber.org/zap"
)

type hasher struct{}

func (h hasher) Sum64(data []byte) uint64 {
	return murmur3.Sum64(data)
}

type RingConfig struct {
	PartitionCount int
	Members        []string
}

type member string

func (m member) String() string {
	return string(m)
}

// Ring maps workflow ids onto a fixed set of members (the step workers).
// The same id always lands on the same member while membership is unchanged.
type Ring struct {
	RingConfig
	hring   *consistent.Consistent
	members map[string]struct{}
}

func NewRing(c RingConfig) (*Ring, error) {
	if c.PartitionCount <= 0 {
		return nil, fmt.Errorf("partition count must be positive, got %d", c.PartitionCount)
	}
	if len(c.Members) == 0 {
		return nil, fmt.Errorf("ring needs at least one member")
	}
	cfg := consistent.Config{
		PartitionCount:    c.PartitionCount,
		ReplicationFactor: 20,
		Load:              1.25,
		Hasher:            hasher{},
	}
	members := make([]consistent.Member, 0, len(c.Members))
	set := make(map[string]struct{}, len(c.Members))
	for _, m := range c.Members {
		if _, ok := set[m]; ok {
			continue
		}
		set[m] = struct{}{}
		members = append(members, member(m))
	}
	r := &Ring{
		RingConfig: c,
		hring:      consistent.New(members, cfg),
		members:    set,
	}
	logger.Info("partition ring ready", zap.Int("partitions", c.PartitionCount), zap.Int("members", len(set)))
	return r, nil
}

func (r *Ring) GetPartition(key string) int {
	return r.hring.FindPartitionID([]byte(key))
}

func (r *Ring) Locate(key string) string {
	return r.hring.LocateKey([]byte(key)).String()
}

func (r *Ring) Members() []string {
	out := make([]string, 0, len(r.members))
	for _, m := range r.hring.GetMembers() {
		out = append(out, m.String())
	}
	return out
}

// PartitionsOf lists the partitions currently owned by name.
func (r *Ring) PartitionsOf(name string) []int {
	partitions := make([]int, 0)
	for i := 0; i < r.PartitionCount; i++ {
		if r.hring.GetPartitionOwner(i).String() == name {
			partitions = append(partitions, i)
		}
	}
	return partitions
}
