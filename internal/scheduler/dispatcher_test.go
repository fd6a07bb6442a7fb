package scheduler

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xiaot623/gogo/runplane/internal/domain"
)

func newDispatcher(t *testing.T, capacity int) *Dispatcher {
	t.Helper()
	d, err := New(capacity, WithRetryAfter(250*time.Millisecond))
	require.NoError(t, err)
	t.Cleanup(func() { _ = d.Shutdown(time.Second) })
	return d
}

func TestNew_RejectsZeroCapacity(t *testing.T) {
	_, err := New(0)
	assert.Error(t, err)
}

func TestAdmit_FailFast(t *testing.T) {
	d := newDispatcher(t, 1)
	ctx := context.Background()

	slot, err := d.Admit(ctx, domain.AdmissionFailFast, 0)
	require.NoError(t, err)

	_, err = d.Admit(ctx, domain.AdmissionFailFast, 0)
	var over *domain.OverloadedError
	require.ErrorAs(t, err, &over)
	assert.Equal(t, 250*time.Millisecond, over.RetryAfter)
	assert.ErrorIs(t, err, domain.ErrOverloaded)

	slot.Release()
	slot.Release()
	assert.Equal(t, Stats{Capacity: 1}, d.Stats())
}

func TestAdmit_BlockTimesOut(t *testing.T) {
	d := newDispatcher(t, 1)
	ctx := context.Background()
	slot, err := d.Admit(ctx, domain.AdmissionBlock, time.Second)
	require.NoError(t, err)
	defer slot.Release()

	start := time.Now()
	_, err = d.Admit(ctx, domain.AdmissionBlock, 30*time.Millisecond)
	assert.ErrorIs(t, err, domain.ErrOverloaded)
	assert.GreaterOrEqual(t, time.Since(start), 30*time.Millisecond)
	assert.Equal(t, 0, d.Stats().Waiting)
}

func TestAdmit_BlockHonorsContext(t *testing.T) {
	d := newDispatcher(t, 1)
	slot, err := d.Admit(context.Background(), domain.AdmissionBlock, 0)
	require.NoError(t, err)
	defer slot.Release()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = d.Admit(ctx, domain.AdmissionBlock, 0)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestAdmit_WaitersServedOldestFirst(t *testing.T) {
	d := newDispatcher(t, 1)
	ctx := context.Background()
	held, err := d.Admit(ctx, domain.AdmissionBlock, 0)
	require.NoError(t, err)

	const n = 5
	order := make(chan int, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			slot, err := d.Admit(ctx, domain.AdmissionBlock, 5*time.Second)
			if err != nil {
				return
			}
			order <- i
			slot.Release()
		}(i)
		require.Eventually(t, func() bool { return d.Stats().Waiting == i+1 }, time.Second, time.Millisecond)
	}

	held.Release()
	wg.Wait()
	close(order)
	var got []int
	for i := range order {
		got = append(got, i)
	}
	assert.Equal(t, []int{0, 1, 2, 3, 4}, got)
}

func TestSubmit_ReleasesSlot(t *testing.T) {
	d := newDispatcher(t, 2)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		slot, err := d.Admit(ctx, domain.AdmissionFailFast, 0)
		require.NoError(t, err)
		wg.Add(1)
		require.NoError(t, d.Submit(slot, func() {
			defer wg.Done()
			time.Sleep(10 * time.Millisecond)
		}))
	}
	assert.Equal(t, 2, d.Stats().Active)
	wg.Wait()
	assert.Eventually(t, func() bool { return d.Stats().Active == 0 }, time.Second, time.Millisecond)
}

func TestSubmit_PanicFreesSlot(t *testing.T) {
	d := newDispatcher(t, 1)
	slot, err := d.Admit(context.Background(), domain.AdmissionFailFast, 0)
	require.NoError(t, err)
	require.NoError(t, d.Submit(slot, func() { panic("boom") }))
	assert.Eventually(t, func() bool { return d.Stats().Active == 0 }, time.Second, time.Millisecond)
}

func TestAdmit_NeverExceedsCapacity(t *testing.T) {
	const capacity = 3
	d := newDispatcher(t, capacity)
	ctx := context.Background()

	var mu sync.Mutex
	inside, peak := 0, 0
	var wg sync.WaitGroup
	for i := 0; i < 30; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			slot, err := d.Admit(ctx, domain.AdmissionBlock, 5*time.Second)
			if err != nil {
				t.Error(err)
				return
			}
			mu.Lock()
			inside++
			if inside > peak {
				peak = inside
			}
			mu.Unlock()
			time.Sleep(time.Millisecond)
			mu.Lock()
			inside--
			mu.Unlock()
			slot.Release()
		}()
	}
	wg.Wait()
	assert.LessOrEqual(t, peak, capacity)
	assert.Equal(t, 0, d.Stats().Active)
}
