package stream

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xiaot623/gogo/runplane/internal/domain"
)

func publishN(t *testing.T, l *Log, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		_, err := l.Publish(domain.EventTypeValues, json.RawMessage(`{"i":1}`))
		require.NoError(t, err)
	}
}

func drain(t *testing.T, s *Subscription) []int64 {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	var seqs []int64
	for {
		ev, err := s.Next(ctx)
		if errors.Is(err, io.EOF) {
			return seqs
		}
		require.NoError(t, err)
		seqs = append(seqs, ev.Seq)
	}
}

func TestHub_PublishAssignsContiguousSeqs(t *testing.T) {
	h := NewHub()
	l := h.Open("run-1", 0)

	for want := int64(1); want <= 3; want++ {
		seq, err := l.Publish(domain.EventTypeUpdates, nil)
		require.NoError(t, err)
		assert.Equal(t, want, seq)
	}
	assert.Equal(t, int64(3), l.LastSeq())
}

func TestHub_OpenContinuesAfterPersistedSeq(t *testing.T) {
	h := NewHub()
	l := h.Open("run-1", 41)
	seq, err := l.Publish(domain.EventTypeValues, nil)
	require.NoError(t, err)
	assert.Equal(t, int64(42), seq)

	// Reopening an existing log returns the same one.
	assert.Same(t, l, h.Open("run-1", 0))
}

func TestHub_LateJoinReplaysRemainder(t *testing.T) {
	h := NewHub()
	l := h.Open("run-1", 0)
	publishN(t, l, 5)

	sub, err := h.Subscribe("run-1", 4)
	require.NoError(t, err)
	publishN(t, l, 2)
	h.Close("run-1", nil)

	assert.Equal(t, []int64{4, 5, 6, 7, 8}, drain(t, sub))
}

func TestHub_FromZeroStartsAtOldest(t *testing.T) {
	h := NewHub(WithCapacity(3))
	l := h.Open("run-1", 0)
	publishN(t, l, 5)
	h.Close("run-1", nil)

	sub, err := h.Subscribe("run-1", 0)
	require.NoError(t, err)
	assert.Equal(t, []int64{4, 5, 6}, drain(t, sub))
}

func TestHub_EvictedReplayIsStreamGap(t *testing.T) {
	h := NewHub(WithCapacity(4))
	l := h.Open("run-1", 0)
	publishN(t, l, 10)

	_, err := h.Subscribe("run-1", 2)
	var gap *domain.StreamGapError
	require.ErrorAs(t, err, &gap)
	assert.Equal(t, int64(2), gap.Requested)
	assert.Equal(t, int64(7), gap.Oldest)
	assert.ErrorIs(t, err, domain.ErrStreamGap)
}

func TestHub_SlowConsumerFallsIntoGap(t *testing.T) {
	h := NewHub(WithCapacity(2))
	l := h.Open("run-1", 0)
	sub, err := h.Subscribe("run-1", 1)
	require.NoError(t, err)

	publishN(t, l, 5)
	_, err = sub.Next(context.Background())
	assert.ErrorIs(t, err, domain.ErrStreamGap)
}

func TestHub_NextBlocksUntilPublish(t *testing.T) {
	h := NewHub()
	l := h.Open("run-1", 0)
	sub, err := h.Subscribe("run-1", 1)
	require.NoError(t, err)

	got := make(chan domain.StreamEvent, 1)
	go func() {
		ev, err := sub.Next(context.Background())
		if err == nil {
			got <- ev
		}
	}()

	time.Sleep(20 * time.Millisecond)
	publishN(t, l, 1)
	select {
	case ev := <-got:
		assert.Equal(t, int64(1), ev.Seq)
	case <-time.After(time.Second):
		t.Fatal("consumer was not woken")
	}
}

func TestHub_NextHonorsContext(t *testing.T) {
	h := NewHub()
	h.Open("run-1", 0)
	sub, err := h.Subscribe("run-1", 1)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = sub.Next(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestHub_ReattachFromAck(t *testing.T) {
	h := NewHub()
	l := h.Open("run-1", 0)
	publishN(t, l, 3)

	sub, err := h.Subscribe("run-1", 1)
	require.NoError(t, err)
	ev, err := sub.Next(context.Background())
	require.NoError(t, err)
	sub.Ack(ev.Seq)
	sub.Close()
	assert.Equal(t, 0, h.Consumers("run-1"))

	publishN(t, l, 1)
	h.Close("run-1", nil)
	again, err := h.Subscribe("run-1", sub.Acked()+1)
	require.NoError(t, err)
	assert.Equal(t, []int64{2, 3, 4, 5}, drain(t, again))
}

func TestHub_ClosedLogRejectsPublish(t *testing.T) {
	h := NewHub()
	l := h.Open("run-1", 0)
	h.Close("run-1", json.RawMessage(`{"status":"completed"}`))
	h.Close("run-1", nil)

	_, err := l.Publish(domain.EventTypeValues, nil)
	assert.ErrorIs(t, err, ErrClosed)
	assert.True(t, l.Closed())
	assert.Equal(t, int64(1), l.LastSeq())
}

func TestHub_DiscardAfterGrace(t *testing.T) {
	h := NewHub(WithGrace(30 * time.Millisecond))
	h.Open("run-1", 0)
	h.Close("run-1", nil)

	_, ok := h.Get("run-1")
	assert.True(t, ok)
	assert.Eventually(t, func() bool { return h.Len() == 0 }, time.Second, 5*time.Millisecond)

	_, err := h.Subscribe("run-1", 0)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestHub_DiscardWhenAllConsumersAcked(t *testing.T) {
	h := NewHub(WithGrace(time.Hour))
	l := h.Open("run-1", 0)
	a, err := h.Subscribe("run-1", 1)
	require.NoError(t, err)
	b, err := h.Subscribe("run-1", 1)
	require.NoError(t, err)

	publishN(t, l, 2)
	h.Close("run-1", nil)

	a.Ack(3)
	assert.Equal(t, 1, h.Len())
	b.Ack(2)
	assert.Equal(t, 1, h.Len())
	b.Ack(3)
	assert.Equal(t, 0, h.Len())

	// Consumers that already hold the log can still finish reading.
	assert.Equal(t, []int64{1, 2, 3}, drain(t, a))
}

func TestHub_ParkAndRevive(t *testing.T) {
	h := NewHub(WithGrace(30 * time.Millisecond))
	l := h.Open("run-1", 0)
	publishN(t, l, 2)

	h.Park("run-1")
	assert.Same(t, l, h.Open("run-1", 0))
	time.Sleep(60 * time.Millisecond)
	_, ok := h.Get("run-1")
	assert.True(t, ok, "revived log must survive the grace period")

	h.Park("run-1")
	assert.Eventually(t, func() bool { return h.Len() == 0 }, time.Second, 5*time.Millisecond)
}

func TestHub_ParkedLogOutlivesGraceWhileConsumed(t *testing.T) {
	h := NewHub(WithGrace(20 * time.Millisecond))
	l := h.Open("run-1", 0)
	publishN(t, l, 2)
	sub, err := h.Subscribe("run-1", 3)
	require.NoError(t, err)

	h.Park("run-1")
	time.Sleep(80 * time.Millisecond)
	require.Equal(t, 1, h.Len(), "attached consumer must keep the parked log")

	// The resumed run reopens the same log and the waiting consumer sees it.
	assert.Same(t, l, h.Open("run-1", 2))
	_, err = l.Publish(domain.EventTypeMetadata, nil)
	require.NoError(t, err)
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	ev, err := sub.Next(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(3), ev.Seq)

	h.Park("run-1")
	sub.Close()
	assert.Eventually(t, func() bool { return h.Len() == 0 }, time.Second, 5*time.Millisecond)
}

func TestHub_SubscribePastHead(t *testing.T) {
	h := NewHub()
	l := h.Open("run-1", 0)
	publishN(t, l, 2)

	// The next seq is a valid live cursor.
	_, err := h.Subscribe("run-1", 3)
	require.NoError(t, err)
	_, err = h.Subscribe("run-1", 9)
	assert.ErrorIs(t, err, domain.ErrInvalidArgument)

	h.Close("run-1", nil)
	done, err := h.Subscribe("run-1", 4)
	require.NoError(t, err)
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	_, err = done.Next(ctx)
	assert.ErrorIs(t, err, io.EOF)
}

func TestHub_RestoreFromPersistedEvents(t *testing.T) {
	h := NewHub(WithGrace(time.Hour))
	events := []domain.StreamEvent{
		{Seq: 4, Event: domain.EventTypeUpdates, Ts: 100},
		{Seq: 5, Event: domain.EventTypeValues, Ts: 101},
		{Seq: 6, Event: domain.EventTypeEnd, Ts: 102},
	}
	l := h.Restore("run-1", events)
	assert.True(t, l.Closed())
	assert.Equal(t, int64(6), l.LastSeq())

	_, err := h.Subscribe("run-1", 2)
	assert.ErrorIs(t, err, domain.ErrStreamGap)
	sub, err := h.Subscribe("run-1", 0)
	require.NoError(t, err)
	ev, err := sub.Next(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(100), ev.Ts)
	assert.Equal(t, "run-1", ev.RunID)
	assert.Equal(t, []int64{5, 6}, drain(t, sub))

	// An existing log wins over storage.
	assert.Same(t, l, h.Restore("run-1", nil))
}

func TestHub_RestoreStopsAtHole(t *testing.T) {
	h := NewHub()
	l := h.Restore("run-1", []domain.StreamEvent{
		{Seq: 1, Event: domain.EventTypeMetadata},
		{Seq: 3, Event: domain.EventTypeValues},
	})
	assert.False(t, l.Closed())
	assert.Equal(t, int64(1), l.LastSeq())
}

func TestHub_ConcurrentConsumersSeeSameOrder(t *testing.T) {
	h := NewHub(WithCapacity(512))
	l := h.Open("run-1", 0)

	const consumers = 8
	const events = 200
	results := make([][]int64, consumers)
	var wg sync.WaitGroup
	for i := 0; i < consumers; i++ {
		sub, err := h.Subscribe("run-1", 1)
		require.NoError(t, err)
		wg.Add(1)
		go func(i int, sub *Subscription) {
			defer wg.Done()
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			for {
				ev, err := sub.Next(ctx)
				if err != nil {
					return
				}
				results[i] = append(results[i], ev.Seq)
			}
		}(i, sub)
	}

	for i := 0; i < events; i++ {
		_, err := l.Publish(domain.EventTypeUpdates, nil)
		require.NoError(t, err)
	}
	h.Close("run-1", nil)
	wg.Wait()

	for i := 0; i < consumers; i++ {
		require.Len(t, results[i], events+1)
		for j, seq := range results[i] {
			assert.Equal(t, int64(j+1), seq)
		}
	}
}
