package lock

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKeyedMutex_SerializesPerKey(t *testing.T) {
	k := NewKeyedMutex()

	const workers = 20
	const increments = 100

	var a, b int
	counters := map[string]*int{"a": &a, "b": &b}

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		for key := range counters {
			wg.Add(1)
			go func(key string) {
				defer wg.Done()
				for j := 0; j < increments; j++ {
					unlock := k.Lock(key)
					*counters[key]++
					unlock()
				}
			}(key)
		}
	}
	wg.Wait()

	assert.Equal(t, workers*increments, a)
	assert.Equal(t, workers*increments, b)
}

func TestKeyedMutex_IndependentKeysDoNotBlock(t *testing.T) {
	k := NewKeyedMutex()

	unlockA := k.Lock("a")
	defer unlockA()

	done := make(chan struct{})
	go func() {
		unlockB := k.Lock("b")
		unlockB()
		close(done)
	}()

	<-done
}

func TestKeyedMutex_UnlockIdempotent(t *testing.T) {
	k := NewKeyedMutex()

	unlock := k.Lock("a")
	unlock()
	unlock() // second call must be a no-op, not an unlock of someone else

	unlock2 := k.Lock("a")
	unlock2()
}

func TestKeyedMutex_IdleKeysAreReleased(t *testing.T) {
	k := NewKeyedMutex()

	unlock := k.Lock("a")
	assert.Equal(t, 1, k.Len())
	unlock()
	assert.Zero(t, k.Len())

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock := k.Lock("hot")
			unlock()
		}()
	}
	wg.Wait()

	assert.Zero(t, k.Len(), "no entries may leak after all holders release")
}
