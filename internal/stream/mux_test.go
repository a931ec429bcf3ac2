package stream

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/loomchat/loomchat/internal/ai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// memStore is an in-memory ReplayStore standing in for the redis backend.
type memStore struct {
	mu    sync.Mutex
	parts map[string][]ai.Part
	done  map[string]bool
	fail  bool
}

func newMemStore() *memStore {
	return &memStore{parts: make(map[string][]ai.Part), done: make(map[string]bool)}
}

func (s *memStore) Append(ctx context.Context, id string, p ai.Part) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail {
		return errors.New("store down")
	}
	s.parts[id] = append(s.parts[id], p)
	return nil
}

func (s *memStore) MarkDone(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.done[id] = true
	return nil
}

func (s *memStore) Load(ctx context.Context, id string) ([]ai.Part, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]ai.Part(nil), s.parts[id]...), s.done[id], nil
}

// laggyStore slows down every other append, so out-of-order backend writes
// would be observable if they could happen.
type laggyStore struct {
	*memStore
	calls atomic.Int32
}

func (s *laggyStore) Append(ctx context.Context, id string, p ai.Part) error {
	if s.calls.Add(1)%2 == 1 {
		time.Sleep(5 * time.Millisecond)
	}
	return s.memStore.Append(ctx, id, p)
}

func collect(t *testing.T, sub *Subscription, want int) []ai.Part {
	t.Helper()
	var got []ai.Part
	deadline := time.After(2 * time.Second)
	for len(got) < want {
		select {
		case p, ok := <-sub.C:
			if !ok {
				return got
			}
			got = append(got, p)
		case <-deadline:
			t.Fatalf("timed out after %d of %d parts", len(got), want)
		}
	}
	return got
}

// waitDone blocks until the persist loop has flushed the stream and marked
// it complete in the store.
func waitDone(t *testing.T, store ReplayStore, id string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if _, done, err := store.Load(context.Background(), id); err == nil && done {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("stream never marked done in store")
}

func textPart(s string) ai.Part {
	return ai.Part{Type: ai.PartTextDelta, Text: s}
}

func TestSubscribe_LiveDeliveryInOrder(t *testing.T) {
	m := NewMux(nil, time.Minute, nil)
	st := m.Open("s1")

	sub, err := m.Subscribe(context.Background(), "s1")
	require.NoError(t, err)

	for i := 0; i < 10; i++ {
		st.Publish(textPart(fmt.Sprintf("p%d", i)))
	}
	st.Close()

	got := collect(t, sub, 10)
	require.Len(t, got, 10)
	for i, p := range got {
		assert.Equal(t, fmt.Sprintf("p%d", i), p.Text)
	}

	_, open := <-sub.C
	assert.False(t, open, "channel must close after stream completes")
}

func TestSubscribe_MidStreamAttachReplaysBuffer(t *testing.T) {
	m := NewMux(nil, time.Minute, nil)
	st := m.Open("s1")

	st.Publish(textPart("a"))
	st.Publish(textPart("b"))

	sub, err := m.Subscribe(context.Background(), "s1")
	require.NoError(t, err)

	st.Publish(textPart("c"))
	st.Close()

	got := collect(t, sub, 3)
	require.Len(t, got, 3)
	assert.Equal(t, "a", got[0].Text)
	assert.Equal(t, "b", got[1].Text)
	assert.Equal(t, "c", got[2].Text)
}

func TestSubscribe_CompletedStreamReplaysAndEnds(t *testing.T) {
	m := NewMux(nil, time.Minute, nil)
	st := m.Open("s1")
	st.Publish(textPart("a"))
	st.Close()

	sub, err := m.Subscribe(context.Background(), "s1")
	require.NoError(t, err)

	got := collect(t, sub, 1)
	require.Len(t, got, 1)
	_, open := <-sub.C
	assert.False(t, open)
}

func TestSubscribe_UnknownStream(t *testing.T) {
	m := NewMux(nil, time.Minute, nil)
	_, err := m.Subscribe(context.Background(), "nope")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSubscribe_FallsBackToReplayStore(t *testing.T) {
	store := newMemStore()
	m := NewMux(store, time.Minute, nil)

	st := m.Open("s1")
	st.Publish(textPart("a"))
	st.Publish(textPart("b"))
	st.Close()
	waitDone(t, store, "s1")

	// simulate the buffer leaving local memory before the client returns
	m.remove("s1")

	sub, err := m.Subscribe(context.Background(), "s1")
	require.NoError(t, err)

	got := collect(t, sub, 2)
	require.Len(t, got, 2)
	assert.Equal(t, "a", got[0].Text)
	assert.Equal(t, "b", got[1].Text)
	_, open := <-sub.C
	assert.False(t, open)
}

func TestReplayStoreSeesBufferOrder(t *testing.T) {
	store := &laggyStore{memStore: newMemStore()}
	m := NewMux(store, time.Minute, nil)
	st := m.Open("s1")

	sub, err := m.Subscribe(context.Background(), "s1")
	require.NoError(t, err)

	// concurrent publishers, as tools publishing alongside generation
	var wg sync.WaitGroup
	for g := 0; g < 2; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for i := 0; i < 10; i++ {
				st.Publish(textPart(fmt.Sprintf("g%d-%d", g, i)))
			}
		}(g)
	}
	wg.Wait()
	st.Close()

	live := collect(t, sub, 20)
	require.Len(t, live, 20)

	waitDone(t, store, "s1")
	m.remove("s1")

	resumed, err := m.Subscribe(context.Background(), "s1")
	require.NoError(t, err)
	replayed := collect(t, resumed, 20)
	require.Len(t, replayed, 20)

	for i := range live {
		assert.Equal(t, live[i].Text, replayed[i].Text, "replay diverged at %d", i)
	}
}

func TestPublish_StoreFailureDoesNotBlockLive(t *testing.T) {
	store := newMemStore()
	store.fail = true
	m := NewMux(store, time.Minute, nil)

	st := m.Open("s1")
	sub, err := m.Subscribe(context.Background(), "s1")
	require.NoError(t, err)

	st.Publish(textPart("a"))
	st.Close()

	got := collect(t, sub, 1)
	require.Len(t, got, 1)
	assert.Equal(t, "a", got[0].Text)
}

func TestPublish_AfterCloseIsIgnored(t *testing.T) {
	m := NewMux(nil, time.Minute, nil)
	st := m.Open("s1")
	st.Close()
	st.Publish(textPart("late"))

	sub, err := m.Subscribe(context.Background(), "s1")
	require.NoError(t, err)
	got := collect(t, sub, 0)
	assert.Empty(t, got)
}

func TestSubscription_CancelDetaches(t *testing.T) {
	m := NewMux(nil, time.Minute, nil)
	st := m.Open("s1")

	sub, err := m.Subscribe(context.Background(), "s1")
	require.NoError(t, err)
	sub.Cancel()

	// publishing to a cancelled subscriber must not panic or block
	st.Publish(textPart("a"))
	st.Close()

	_, open := <-sub.C
	assert.False(t, open)
}

func TestSlowSubscriberIsDropped(t *testing.T) {
	m := NewMux(nil, time.Minute, nil)
	st := m.Open("s1")

	sub, err := m.Subscribe(context.Background(), "s1")
	require.NoError(t, err)

	// never read; overflow the per-subscriber buffer
	for i := 0; i < subBuffer+10; i++ {
		st.Publish(textPart("x"))
	}

	got := collect(t, sub, subBuffer)
	assert.Len(t, got, subBuffer)
	_, open := <-sub.C
	assert.False(t, open, "dropped subscriber channel must be closed")

	// the stream itself keeps going for a fresh subscriber
	fresh, err := m.Subscribe(context.Background(), "s1")
	require.NoError(t, err)
	st.Close()
	assert.Len(t, collect(t, fresh, subBuffer+10), subBuffer+10)
}
