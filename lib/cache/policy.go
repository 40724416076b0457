package cache

import (
	"fmt"
	"sort"
	"strings"
)

// EvictionPolicy decides up to which index cached payloads are no longer needed,
// given the leader's own flushed index and the match indices of the followers.
type EvictionPolicy interface {
	Name() string
	// EvictIndex returns the highest index that may be evicted.
	EvictIndex(leader uint64, followers []uint64) uint64
}

// ParseEvictionPolicy returns the policy with the given name ("majority" or "all-followers").
func ParseEvictionPolicy(name string) (EvictionPolicy, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "majority", "":
		return MajorityPolicy{}, nil
	case "all-followers", "all":
		return AllFollowersPolicy{}, nil
	default:
		return nil, fmt.Errorf("unknown eviction policy %q (expected majority or all-followers)", name)
	}
}

// MajorityPolicy evicts everything a majority of the replicas (leader included) has.
// For 2N replicas a majority is N+1, so the returned index is held by at least N+1 replicas.
type MajorityPolicy struct{}

func (MajorityPolicy) Name() string { return "majority" }

func (MajorityPolicy) EvictIndex(leader uint64, followers []uint64) uint64 {
	all := make([]uint64, 0, len(followers)+1)
	all = append(all, leader)
	all = append(all, followers...)
	sort.Slice(all, func(i, j int) bool { return all[i] > all[j] })
	return all[len(all)/2]
}

// AllFollowersPolicy evicts only what every replica has, which keeps payloads around
// for the slowest follower.
type AllFollowersPolicy struct{}

func (AllFollowersPolicy) Name() string { return "all-followers" }

func (AllFollowersPolicy) EvictIndex(leader uint64, followers []uint64) uint64 {
	lowest := leader
	for _, f := range followers {
		if f < lowest {
			lowest = f
		}
	}
	return lowest
}
