package services

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/go-redis/redismock/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAtomicSequencer_StrictlyIncreasing(t *testing.T) {
	seq := NewAtomicSequencer()
	ctx := context.Background()

	var last int64
	for i := 0; i < 100; i++ {
		n, err := seq.Next(ctx)
		require.NoError(t, err)
		assert.Greater(t, n, last)
		last = n
	}
}

func TestAtomicSequencer_ConcurrentUnique(t *testing.T) {
	seq := NewAtomicSequencer()
	ctx := context.Background()

	const workers, perWorker = 8, 250
	var (
		mu   sync.Mutex
		seen = make(map[int64]bool, workers*perWorker)
		wg   sync.WaitGroup
	)
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < perWorker; i++ {
				n, _ := seq.Next(ctx)
				mu.Lock()
				seen[n] = true
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Len(t, seen, workers*perWorker)
}

func TestRedisSequencer_Next(t *testing.T) {
	db, redisMock := redismock.NewClientMock()
	defer redisMock.ClearExpect()

	seq := NewRedisSequencer(db, "")
	redisMock.ExpectIncr("payfast:attempt_seq").SetVal(41)
	redisMock.ExpectIncr("payfast:attempt_seq").SetVal(42)

	first, err := seq.Next(context.Background())
	require.NoError(t, err)
	second, err := seq.Next(context.Background())
	require.NoError(t, err)

	assert.Equal(t, int64(41), first)
	assert.Equal(t, int64(42), second)
	require.NoError(t, redisMock.ExpectationsWereMet())
}

func TestRedisSequencer_Error(t *testing.T) {
	db, redisMock := redismock.NewClientMock()
	defer redisMock.ClearExpect()

	seq := NewRedisSequencer(db, "orders:seq")
	redisMock.ExpectIncr("orders:seq").SetErr(errors.New("READONLY"))

	_, err := seq.Next(context.Background())

	assert.Error(t, err)
	assert.Contains(t, err.Error(), "orders:seq")
}
