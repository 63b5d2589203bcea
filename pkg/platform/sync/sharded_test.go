package sync

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestWithLock_SerializesSameKey(t *testing.T) {
	m := NewShardedMutex()
	counter := 0

	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			m.WithLock("actor-1", func() {
				counter++
			})
		}()
	}
	wg.Wait()

	assert.Equal(t, 100, counter)
}

func TestWithLock_DifferentKeysDoNotDeadlock(t *testing.T) {
	m := NewShardedMutex()

	var wg sync.WaitGroup
	for i := 0; i < 200; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			m.WithLock(fmt.Sprintf("actor-%d", n), func() {})
		}(i)
	}
	wg.Wait()
}

func TestLockUnlock_EmptyKey(t *testing.T) {
	m := NewShardedMutex()
	m.Lock("")
	m.Unlock("")
}

func TestShardFor_Stable(t *testing.T) {
	m := NewShardedMutex()
	assert.Equal(t, m.shardFor("user-42"), m.shardFor("user-42"))
}
