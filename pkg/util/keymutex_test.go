package util_test

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/overseer-labs/warden/pkg/util"
)

func TestKeyMutex_SerializesPerKey(t *testing.T) {
	km := util.NewKeyMutex()
	counters := map[string]int{}

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		for _, key := range []string{"a", "b"} {
			wg.Add(1)
			go func(key string) {
				defer wg.Done()
				for j := 0; j < 100; j++ {
					km.Lock(key)
					counters[key]++
					km.Unlock(key)
				}
			}(key)
		}
	}
	wg.Wait()

	assert.Equal(t, 800, counters["a"])
	assert.Equal(t, 800, counters["b"])
}

func TestKeyMutex_UnlockUnheldPanics(t *testing.T) {
	km := util.NewKeyMutex()
	assert.Panics(t, func() { km.Unlock("never-locked") })
}
