package store

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecency_UpsertNewestFirst(t *testing.T) {
	r := NewRecency[string, int](3)

	assert.True(t, r.Upsert("a", 1))
	assert.True(t, r.Upsert("b", 2))
	assert.True(t, r.Upsert("c", 3))

	assert.Equal(t, []string{"c", "b", "a"}, r.Keys())
	assert.Equal(t, []int{3, 2, 1}, r.Snapshot())
}

func TestRecency_BoundedSize(t *testing.T) {
	r := NewRecency[int, int](10)

	for i := 0; i < 25; i++ {
		r.Upsert(i, i)
		assert.LessOrEqual(t, r.Len(), 10)
	}

	require.Equal(t, 10, r.Len())
	keys := r.Keys()
	assert.Equal(t, 24, keys[0])
	assert.Equal(t, 15, keys[9])

	_, ok := r.Get(14)
	assert.False(t, ok, "evicted entry must not be retrievable")
}

func TestRecency_UpsertExistingKeepsPosition(t *testing.T) {
	r := NewRecency[string, int](5)
	r.Upsert("a", 1)
	r.Upsert("b", 2)
	r.Upsert("c", 3)

	assert.False(t, r.Upsert("b", 20))

	assert.Equal(t, []string{"c", "b", "a"}, r.Keys())
	v, ok := r.Get("b")
	require.True(t, ok)
	assert.Equal(t, 20, v)
}

func TestRecency_IdempotentUpsert(t *testing.T) {
	r := NewRecency[string, int](5)
	r.Upsert("a", 1)
	r.Upsert("b", 2)

	before := r.Snapshot()
	r.Upsert("b", 2)
	r.Upsert("b", 2)

	assert.Equal(t, before, r.Snapshot())
	assert.Equal(t, 2, r.Len())
}

func TestRecency_MergeFunc(t *testing.T) {
	keepMax := func(existing, incoming int) int {
		if existing > incoming {
			return existing
		}
		return incoming
	}
	r := NewRecency[string, int](5, WithMerge[string, int](keepMax))

	r.Upsert("a", 5)
	r.Upsert("a", 3)

	v, _ := r.Get("a")
	assert.Equal(t, 5, v)

	r.Upsert("a", 9)
	v, _ = r.Get("a")
	assert.Equal(t, 9, v)
}

func TestRecency_Replace(t *testing.T) {
	tests := []struct {
		name     string
		capacity int
		keys     []string
		values   []int
		wantKeys []string
	}{
		{
			name:     "within capacity",
			capacity: 5,
			keys:     []string{"x", "y"},
			values:   []int{1, 2},
			wantKeys: []string{"x", "y"},
		},
		{
			name:     "truncated to capacity",
			capacity: 2,
			keys:     []string{"x", "y", "z"},
			values:   []int{1, 2, 3},
			wantKeys: []string{"x", "y"},
		},
		{
			name:     "duplicates dropped",
			capacity: 3,
			keys:     []string{"x", "x", "y"},
			values:   []int{1, 2, 3},
			wantKeys: []string{"x", "y"},
		},
		{
			name:     "mismatched lengths",
			capacity: 3,
			keys:     []string{"x", "y", "z"},
			values:   []int{1},
			wantKeys: []string{"x"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := NewRecency[string, int](tt.capacity)
			r.Upsert("old", 0)

			r.Replace(tt.keys, tt.values)

			assert.Equal(t, tt.wantKeys, r.Keys())
			assert.False(t, r.Contains("old"))
		})
	}
}

func TestRecency_ResetAndVersion(t *testing.T) {
	r := NewRecency[string, int](3)
	assert.Equal(t, uint64(0), r.Version())

	r.Upsert("a", 1)
	r.Upsert("b", 2)
	assert.Equal(t, uint64(2), r.Version())

	r.Reset()
	assert.Equal(t, 0, r.Len())
	assert.Equal(t, uint64(3), r.Version())
	assert.Equal(t, 3, r.Cap())
}

func TestRecency_NonPositiveCapacity(t *testing.T) {
	r := NewRecency[string, int](0)
	r.Upsert("a", 1)
	r.Upsert("b", 2)

	assert.Equal(t, 1, r.Cap())
	assert.Equal(t, []string{"b"}, r.Keys())
}

func TestRecency_SnapshotIsCopy(t *testing.T) {
	r := NewRecency[string, int](3)
	r.Upsert("a", 1)

	snap := r.Snapshot()
	snap[0] = 100
	keys := r.Keys()
	keys[0] = "mutated"

	v, _ := r.Get("a")
	assert.Equal(t, 1, v)
	assert.Equal(t, []string{"a"}, r.Keys())
}

func TestRecency_ConcurrentUpserts(t *testing.T) {
	r := NewRecency[string, int](10)

	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for i := 0; i < 100; i++ {
				r.Upsert(fmt.Sprintf("k%d", i%30), g)
			}
		}(g)
	}
	wg.Wait()

	keys := r.Keys()
	require.Len(t, keys, 10)

	seen := make(map[string]bool)
	for _, k := range keys {
		assert.False(t, seen[k], "duplicate key %s", k)
		seen[k] = true
	}
}
