package syncproto

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestBatcherFlushesImmediatelyAtMaxSize(t *testing.T) {
	var mu sync.Mutex
	var flushes [][]string
	b := NewBatcher(func(ids []string) {
		mu.Lock()
		defer mu.Unlock()
		flushes = append(flushes, ids)
	})

	for i := 0; i < MaxBatchSize; i++ {
		b.Add(randID(i))
	}

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, flushes, 1)
	require.LessOrEqual(t, len(flushes[0]), MaxBatchSize)
}

func TestBatcherFlushesAfterDelay(t *testing.T) {
	flushed := make(chan []string, 1)
	b := NewBatcher(func(ids []string) { flushed <- ids })
	b.Add("u1")
	b.Add("u2")

	select {
	case ids := <-flushed:
		require.ElementsMatch(t, []string{"u1", "u2"}, ids)
	case <-time.After(500 * time.Millisecond):
		t.Fatal("batcher did not flush after delay")
	}
}

func TestBatcherResetsTimerOnEachAdd(t *testing.T) {
	flushed := make(chan []string, 1)
	b := NewBatcher(func(ids []string) { flushed <- ids })

	b.Add("u1")
	time.Sleep(BatchDelay / 2)
	b.Add("u2") // resets the 100ms window

	select {
	case <-flushed:
		t.Fatal("flushed before the reset window elapsed")
	case <-time.After(BatchDelay / 2):
	}

	select {
	case ids := <-flushed:
		require.ElementsMatch(t, []string{"u1", "u2"}, ids)
	case <-time.After(time.Second):
		t.Fatal("batcher never flushed")
	}
}

func TestBatcherCancelDiscardsWithoutFlushing(t *testing.T) {
	called := false
	b := NewBatcher(func(ids []string) { called = true })
	b.Add("u1")
	b.Cancel()

	time.Sleep(2 * BatchDelay)
	require.False(t, called)
	require.Equal(t, 0, b.Len())
}

func TestBatcherInvariantSizeBounds(t *testing.T) {
	flushed := make(chan []string, 10)
	b := NewBatcher(func(ids []string) { flushed <- ids })

	for i := 0; i < 120; i++ {
		b.Add(randID(i))
	}
	b.Flush() // drain the remainder

	total := 0
	for {
		select {
		case ids := <-flushed:
			require.GreaterOrEqual(t, len(ids), 1)
			require.LessOrEqual(t, len(ids), MaxBatchSize)
			total += len(ids)
			continue
		default:
		}
		break
	}
	require.Equal(t, 120, total)
}

func randID(i int) string {
	const letters = "abcdefghijklmnopqrstuvwxyz"
	return string(letters[i%26]) + string(rune('0'+(i/26)%10)) + string(rune('A'+(i/260)%26))
}
