package concurrent

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKeyedMutexSerializesSameKey(t *testing.T) {
	locks := NewKeyedMutex()
	var (
		wg      sync.WaitGroup
		counter int
	)
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			locks.Lock("k")
			counter++
			locks.Unlock("k")
		}()
	}
	wg.Wait()
	assert.Equal(t, 100, counter)
}

func TestKeyedMutexIndependentKeys(t *testing.T) {
	locks := NewKeyedMutex()
	locks.Lock("a")
	// 不同key不互斥，持有a时b可立即获得
	acquired := make(chan struct{})
	go func() {
		locks.Lock("b")
		locks.Unlock("b")
		close(acquired)
	}()
	<-acquired
	locks.Unlock("a")
}

func TestKeyedMutexReleasesEntries(t *testing.T) {
	locks := NewKeyedMutex()
	locks.Lock("a")
	locks.Unlock("a")
	locks.Lock("b")
	locks.Unlock("b")
	locks.mu.Lock()
	defer locks.mu.Unlock()
	assert.Empty(t, locks.entries)
}

func TestKeyedMutexUnlockUnheldPanics(t *testing.T) {
	locks := NewKeyedMutex()
	assert.Panics(t, func() {
		locks.Unlock("never")
	})
}
