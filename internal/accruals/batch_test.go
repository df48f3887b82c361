package accruals

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

type stubPoster struct {
	mu       sync.Mutex
	inFlight int32
	maxSeen  int32
	fail     map[uuid.UUID]error
	delay    time.Duration
	calls    []uuid.UUID
}

func (p *stubPoster) PostRecord(ctx context.Context, recordID uuid.UUID) (PostResult, error) {
	n := atomic.AddInt32(&p.inFlight, 1)
	defer atomic.AddInt32(&p.inFlight, -1)
	for {
		seen := atomic.LoadInt32(&p.maxSeen)
		if n <= seen || atomic.CompareAndSwapInt32(&p.maxSeen, seen, n) {
			break
		}
	}
	p.mu.Lock()
	p.calls = append(p.calls, recordID)
	p.mu.Unlock()

	if p.delay > 0 {
		select {
		case <-time.After(p.delay):
		case <-ctx.Done():
			return PostResult{}, ctx.Err()
		}
	}
	if err := p.fail[recordID]; err != nil {
		return PostResult{}, err
	}
	return PostResult{RecordID: recordID, PostedLines: 2}, nil
}

func ids(n int) []uuid.UUID {
	out := make([]uuid.UUID, n)
	for i := range out {
		out[i] = uuid.New()
	}
	return out
}

func TestBatchReportsFailuresWithoutStopping(t *testing.T) {
	records := ids(10)
	boom := errors.New("boom")
	poster := &stubPoster{fail: map[uuid.UUID]error{records[3]: boom, records[7]: ErrRecordNotFound}}

	report := NewBatch(poster, 3, time.Second, nil).Run(context.Background(), records)
	require.Equal(t, 10, report.Total)
	require.Equal(t, 8, report.Succeeded)
	require.Equal(t, 2, report.Failed)
	require.Equal(t, 16, report.Lines)
	require.Len(t, report.Failures, 2)
	require.Len(t, poster.calls, 10)

	failed := map[uuid.UUID]error{}
	for _, f := range report.Failures {
		failed[f.RecordID] = f.Err
	}
	require.ErrorIs(t, failed[records[3]], boom)
	require.ErrorIs(t, failed[records[7]], ErrRecordNotFound)
}

func TestBatchBoundsConcurrency(t *testing.T) {
	poster := &stubPoster{delay: 10 * time.Millisecond}
	report := NewBatch(poster, 2, time.Second, nil).Run(context.Background(), ids(8))
	require.Equal(t, 8, report.Succeeded)
	require.LessOrEqual(t, atomic.LoadInt32(&poster.maxSeen), int32(2))
}

func TestBatchAppliesPerRecordTimeout(t *testing.T) {
	poster := &stubPoster{delay: time.Second}
	report := NewBatch(poster, 4, 20*time.Millisecond, nil).Run(context.Background(), ids(2))
	require.Equal(t, 2, report.Failed)
	for _, f := range report.Failures {
		require.ErrorIs(t, f.Err, context.DeadlineExceeded)
	}
}

func TestBatchCancelledContextSkipsRemaining(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	poster := &stubPoster{}
	report := NewBatch(poster, 2, time.Second, nil).Run(ctx, ids(3))
	require.Equal(t, 3, report.Failed)
	require.Empty(t, poster.calls)
}

func TestNewBatchDefaults(t *testing.T) {
	b := NewBatch(&stubPoster{}, 0, 0, nil)
	require.Equal(t, 6, b.concurrency)
	require.Equal(t, 15*time.Second, b.timeout)
}
