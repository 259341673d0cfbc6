package id

import (
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewIsValidULID(t *testing.T) {
	t.Parallel()

	s := New()
	_, err := ulid.Parse(s)
	require.NoError(t, err)
}

func TestMonotonicWithinSameMillisecond(t *testing.T) {
	t.Parallel()

	fixed := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	g := NewSeeded(42, func() time.Time { return fixed })

	ids := make([]string, 100)
	for i := range ids {
		ids[i] = g.New()
	}
	assert.True(t, sort.StringsAreSorted(ids))
}

func TestSeededIsReproducible(t *testing.T) {
	t.Parallel()

	fixed := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	a := NewSeeded(7, func() time.Time { return fixed })
	b := NewSeeded(7, func() time.Time { return fixed })

	for i := 0; i < 10; i++ {
		assert.Equal(t, a.New(), b.New())
	}
}

func TestConcurrentUnique(t *testing.T) {
	t.Parallel()

	g := NewULID()
	var (
		mu   sync.Mutex
		seen = map[string]bool{}
		wg   sync.WaitGroup
	)
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 200; i++ {
				s := g.New()
				mu.Lock()
				seen[s] = true
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Len(t, seen, 1600)
}
