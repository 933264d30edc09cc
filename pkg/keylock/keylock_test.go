package keylock_test

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/subkit/subkit/pkg/keylock"
)

func TestKeyLock(t *testing.T) {
	t.Parallel()

	t.Run("serializes same key", func(t *testing.T) {
		t.Parallel()

		kl := keylock.New()
		var counter int

		var wg sync.WaitGroup
		for i := 0; i < 100; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				kl.Lock("user-1")
				defer kl.Unlock("user-1")
				counter++
			}()
		}
		wg.Wait()

		assert.Equal(t, 100, counter)
	})

	t.Run("different keys do not block each other", func(t *testing.T) {
		t.Parallel()

		kl := keylock.New()
		kl.Lock("a")
		defer kl.Unlock("a")

		done := make(chan struct{})
		go func() {
			kl.Lock("b")
			kl.Unlock("b")
			close(done)
		}()

		select {
		case <-done:
		case <-time.After(time.Second):
			t.Fatal("lock on unrelated key blocked")
		}
	})

	t.Run("unlock of unheld key panics", func(t *testing.T) {
		t.Parallel()

		kl := keylock.New()
		assert.Panics(t, func() { kl.Unlock("ghost") })
	})
}
