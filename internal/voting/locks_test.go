package voting

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestKeyedLocksSerialiseSameKey(t *testing.T) {
	locks := newKeyedLocks()
	key := voteLockKey(1, "u1")

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		inside  int
		maxSeen int
	)
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock := locks.Lock(key)
			mu.Lock()
			inside++
			if inside > maxSeen {
				maxSeen = inside
			}
			mu.Unlock()

			mu.Lock()
			inside--
			mu.Unlock()
			unlock()
		}()
	}
	wg.Wait()

	require.Equal(t, 1, maxSeen)
	require.Equal(t, 0, locks.size())
}

func TestKeyedLocksIndependentKeys(t *testing.T) {
	locks := newKeyedLocks()
	unlockA := locks.Lock(voteLockKey(1, "u1"))
	unlockB := locks.Lock(voteLockKey(1, "u2"))
	require.Equal(t, 2, locks.size())
	unlockA()
	unlockB()
	require.Equal(t, 0, locks.size())
}
