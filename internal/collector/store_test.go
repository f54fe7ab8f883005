package collector

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func names(events []Event) []string {
	out := make([]string, len(events))
	for i, ev := range events {
		out[i] = ev.Name
	}
	return out
}

func TestMemoryStore_AddAssignsSequence(t *testing.T) {
	st := NewMemoryStore(10)

	a := st.Add(Event{Name: "a"})
	b := st.Add(Event{Name: "b"})

	assert.Equal(t, uint64(1), a.Seq)
	assert.Equal(t, uint64(2), b.Seq)
	assert.Equal(t, 2, st.Len())
}

func TestMemoryStore_RecentOldestFirst(t *testing.T) {
	st := NewMemoryStore(10)
	for _, n := range []string{"a", "b", "c"} {
		st.Add(Event{Name: n})
	}

	assert.Equal(t, []string{"a", "b", "c"}, names(st.Recent(0)))
	assert.Equal(t, []string{"b", "c"}, names(st.Recent(2)))
	assert.Equal(t, []string{"a", "b", "c"}, names(st.Recent(50)))
}

func TestMemoryStore_Wraps(t *testing.T) {
	st := NewMemoryStore(3)
	for _, n := range []string{"a", "b", "c", "d", "e"} {
		st.Add(Event{Name: n})
	}

	assert.Equal(t, 3, st.Len())
	assert.Equal(t, []string{"c", "d", "e"}, names(st.Recent(0)))
	assert.Equal(t, uint64(5), st.Recent(1)[0].Seq)
}

func TestMemoryStore_ExactlyFull(t *testing.T) {
	st := NewMemoryStore(2)
	st.Add(Event{Name: "a"})
	st.Add(Event{Name: "b"})

	assert.Equal(t, []string{"a", "b"}, names(st.Recent(0)))
}

func TestMemoryStore_DefaultCapacity(t *testing.T) {
	st := NewMemoryStore(0)
	assert.Len(t, st.ring, DefaultCapacity)
}

func TestMemoryStore_Subscribe(t *testing.T) {
	st := NewMemoryStore(10)
	ch := st.Subscribe()

	st.Add(Event{Name: "x"})

	ev := <-ch
	assert.Equal(t, "x", ev.Name)

	st.Unsubscribe(ch)
	_, ok := <-ch
	assert.False(t, ok, "channel should be closed after Unsubscribe")

	// second unsubscribe is a no-op
	st.Unsubscribe(ch)
}

func TestMemoryStore_SlowSubscriberDoesNotBlock(t *testing.T) {
	st := NewMemoryStore(10)
	ch := st.Subscribe()
	defer st.Unsubscribe(ch)

	for i := 0; i < subscriberBuffer+50; i++ {
		st.Add(Event{Name: "x"})
	}
	assert.Len(t, ch, subscriberBuffer)
}

func TestMemoryStore_Concurrent(t *testing.T) {
	st := NewMemoryStore(50)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 100; i++ {
				st.Add(Event{Name: "x"})
				_ = st.Recent(5)
			}
		}()
	}
	wg.Wait()

	recent := st.Recent(0)
	require.Len(t, recent, 50)
	assert.Equal(t, uint64(800), recent[len(recent)-1].Seq)
}
