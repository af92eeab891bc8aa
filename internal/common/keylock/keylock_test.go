package keylock

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLocker_SerializesSameKey(t *testing.T) {
	l := New(8)
	counter := 0

	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = l.With("owner-1", func() error {
				v := counter
				counter = v + 1
				return nil
			})
		}()
	}
	wg.Wait()

	assert.Equal(t, 100, counter)
}

func TestLocker_SameKeySameShard(t *testing.T) {
	l := New(16)
	assert.Same(t, l.shard("abc"), l.shard("abc"))
}

func TestLocker_DefaultShards(t *testing.T) {
	assert.Len(t, New(0).shards, 64)
}
