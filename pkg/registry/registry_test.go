package registry

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBaseRegistry(t *testing.T) {
	r := NewBaseRegistry[int]()

	t.Run("register and get", func(t *testing.T) {
		require.NoError(t, r.Register("one", 1))
		v, ok := r.Get("one")
		require.True(t, ok)
		assert.Equal(t, 1, v)
	})

	t.Run("rejects empty name", func(t *testing.T) {
		require.Error(t, r.Register("", 2))
	})

	t.Run("rejects duplicate name", func(t *testing.T) {
		err := r.Register("one", 11)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "already registered")
	})

	t.Run("names are sorted", func(t *testing.T) {
		require.NoError(t, r.Register("zebra", 26))
		require.NoError(t, r.Register("alpha", 0))
		assert.Equal(t, []string{"alpha", "one", "zebra"}, r.Names())
		assert.Equal(t, 3, r.Count())
	})

	t.Run("remove", func(t *testing.T) {
		require.NoError(t, r.Remove("zebra"))
		_, ok := r.Get("zebra")
		assert.False(t, ok)
		require.Error(t, r.Remove("zebra"))
	})
}

func TestBaseRegistryConcurrentAccess(t *testing.T) {
	r := NewBaseRegistry[int]()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = r.Register(fmt.Sprintf("item-%d", i), i)
			r.Names()
			r.Count()
		}()
	}
	wg.Wait()
	assert.Equal(t, 50, r.Count())
}
