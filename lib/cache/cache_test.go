package cache

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPutEvictsOldestFirst(t *testing.T) {
	c := NewDataCache(10)

	require.Empty(t, c.Put(1, make([]byte, 4)))
	require.Empty(t, c.Put(2, make([]byte, 4)))
	evicted := c.Put(3, make([]byte, 4))

	require.Equal(t, []uint64{1}, evicted)
	_, ok := c.Get(1)
	require.False(t, ok)
	_, ok = c.Get(3)
	require.True(t, ok)
	require.Equal(t, 8, c.SizeBytes())
	require.Equal(t, 2, c.Len())
}

func TestPutOversizedIsNotCached(t *testing.T) {
	c := NewDataCache(4)
	c.Put(1, []byte("ab"))
	require.Nil(t, c.Put(2, []byte("too large")))
	_, ok := c.Get(2)
	require.False(t, ok)
	_, ok = c.Get(1)
	require.True(t, ok)
}

func TestEvictAndTruncate(t *testing.T) {
	c := NewDataCache(1 << 20)
	for i := uint64(1); i <= 10; i++ {
		c.Put(i, []byte{byte(i)})
	}

	require.Equal(t, 3, c.Evict(3))
	for i := uint64(1); i <= 3; i++ {
		_, ok := c.Get(i)
		require.False(t, ok, "index %d should be evicted", i)
	}

	require.Equal(t, 3, c.Truncate(8))
	for i := uint64(8); i <= 10; i++ {
		_, ok := c.Get(i)
		require.False(t, ok, "index %d should be truncated", i)
	}
	require.Equal(t, 4, c.Len())
	require.Equal(t, 4, c.SizeBytes())

	c.Clear()
	require.Equal(t, 0, c.Len())
	require.Equal(t, 0, c.SizeBytes())
}

func TestConcurrentPutGet(t *testing.T) {
	c := NewDataCache(1024)
	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < 500; i++ {
				idx := uint64(w*500 + i)
				c.Put(idx, make([]byte, 16))
				c.Get(idx)
			}
		}(w)
	}
	wg.Wait()
	require.LessOrEqual(t, c.SizeBytes(), 1024)
	require.Equal(t, c.SizeBytes()/16, c.Len())
}

func TestEvictionPolicies(t *testing.T) {
	tests := []struct {
		name      string
		policy    EvictionPolicy
		leader    uint64
		followers []uint64
		want      uint64
	}{
		{"majority of three", MajorityPolicy{}, 10, []uint64{8, 3}, 8},
		{"majority of four", MajorityPolicy{}, 10, []uint64{9, 4, 2}, 4},
		{"majority single node", MajorityPolicy{}, 10, nil, 10},
		{"all followers", AllFollowersPolicy{}, 10, []uint64{8, 3}, 3},
		{"all followers single node", AllFollowersPolicy{}, 10, nil, 10},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.want, tt.policy.EvictIndex(tt.leader, tt.followers))
		})
	}

	p, err := ParseEvictionPolicy("all-followers")
	require.NoError(t, err)
	require.Equal(t, "all-followers", p.Name())
	_, err = ParseEvictionPolicy("lru")
	require.Error(t, err)
}
