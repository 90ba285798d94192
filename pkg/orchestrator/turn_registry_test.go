package orchestrator

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTurnRegistry_OpenIsMonotonic(t *testing.T) {
	r := NewTurnRegistry()
	assert.Equal(t, int64(0), r.Current())

	first := r.Open()
	second := r.Open()
	assert.Equal(t, int64(1), first)
	assert.Equal(t, int64(2), second)
	assert.Greater(t, second, first)
}

func TestTurnRegistry_IsStale(t *testing.T) {
	r := NewTurnRegistry()
	turn := r.Open()
	assert.False(t, r.IsStale(turn))

	newer := r.Open()
	assert.True(t, r.IsStale(turn))
	assert.False(t, r.IsStale(newer))
}

func TestTurnRegistry_ConcurrentOpensStayMonotonic(t *testing.T) {
	r := NewTurnRegistry()
	var wg sync.WaitGroup
	ids := make([]int64, 100)

	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			ids[i] = r.Open()
		}(i)
	}
	wg.Wait()

	seen := make(map[int64]bool, 100)
	for _, id := range ids {
		assert.False(t, seen[id], "turn id %d handed out twice", id)
		seen[id] = true
	}
	assert.Equal(t, int64(100), r.Current())
}
