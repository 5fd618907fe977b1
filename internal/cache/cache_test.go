package cache

import (
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMapCache(t *testing.T) {
	c := NewMapCache[int, string](0)

	_, ok := c.Get(1)
	assert.False(t, ok)

	c.Put(1, "one")
	v, ok := c.Get(1)
	assert.True(t, ok)
	assert.Equal(t, "one", v)
	assert.Equal(t, 1, c.Size())
}

func TestMapCache_Limit(t *testing.T) {
	c := NewMapCache[int, int](2)
	c.Put(1, 1)
	c.Put(2, 2)
	c.Put(3, 3)
	assert.Equal(t, 2, c.Size())

	// Overwriting an existing key never evicts
	c.Put(3, 30)
	assert.Equal(t, 2, c.Size())
	v, _ := c.Get(3)
	assert.Equal(t, 30, v)
}

func TestMapCache_GetOrCreateOnce(t *testing.T) {
	c := NewMapCache[int, *int](0)
	var calls atomic.Int32

	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c.GetOrCreate(8, func() *int {
				calls.Add(1)
				n := 8
				return &n
			})
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), calls.Load())
	assert.Equal(t, 1, c.Size())
}

func TestCache_GetOrCreateThroughInterface(t *testing.T) {
	var c Cache[int, string] = NewMapCache[int, string](0)

	v := c.GetOrCreate(4, func() string { return "four" })
	assert.Equal(t, "four", v)

	// An existing entry wins over create
	v = c.GetOrCreate(4, func() string { return "other" })
	assert.Equal(t, "four", v)
	assert.Equal(t, 1, c.Size())
}
