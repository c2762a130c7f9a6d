package bridge

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/fedstack/pegbridge/internal/extractor"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeStore struct {
	mu       sync.Mutex
	next     int32
	recorded [][]*extractor.Deposit
}

func (f *fakeStore) NextMatureDepositHeight() int32 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.next
}

func (f *fakeStore) RecordLatestMatureDeposits(_ context.Context, deposits []*extractor.Deposit) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.recorded = append(f.recorded, deposits)
	f.next++
	return nil
}

func (f *fakeStore) recordedCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.recorded)
}

func TestPersisterRecordsExpectedHeightOnly(t *testing.T) {
	fake := &fakeStore{next: 10}
	p := NewMaturedDepositPersister(fake, time.Hour)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan struct{})
	go func() {
		p.Start(ctx)
		close(done)
	}()

	require.True(t, p.Enqueue(&MaturedBlockDeposits{
		BlockHeight: 10,
		Deposits:    []*extractor.Deposit{{ID: chainhash.HashH([]byte("d")), BlockNumber: 10}},
	}))
	require.Eventually(t, func() bool {
		return fake.recordedCount() == 1
	}, 2*time.Second, 10*time.Millisecond)

	// a batch for the wrong height is dropped
	require.True(t, p.Enqueue(&MaturedBlockDeposits{BlockHeight: 42}))
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 1, fake.recordedCount())
	assert.Equal(t, int32(11), fake.NextMatureDepositHeight())

	cancel()
	<-done
}

func TestPersisterEnqueueDropsWhenFull(t *testing.T) {
	fake := &fakeStore{next: 0}
	p := NewMaturedDepositPersister(fake, time.Hour)

	// not started: the queue fills up and overflow is rejected
	for i := 0; i < incomingQueueLen; i++ {
		require.True(t, p.Enqueue(&MaturedBlockDeposits{BlockHeight: int32(i)}))
	}
	assert.False(t, p.Enqueue(&MaturedBlockDeposits{BlockHeight: 99}))
}

func TestPersisterRateLimitsRequests(t *testing.T) {
	fake := &fakeStore{next: 5}
	p := NewMaturedDepositPersister(fake, time.Hour)

	p.requestMore()
	p.requestMore()

	require.Len(t, p.requests, 1)
	request := <-p.Requests()
	assert.Equal(t, int32(5), request.FromHeight)
	assert.NotEmpty(t, request.RequestID)

	// a new expected height resets the limiter
	fake.mu.Lock()
	fake.next = 6
	fake.mu.Unlock()
	p.requestMore()
	require.Len(t, p.requests, 1)
	assert.Equal(t, int32(6), (<-p.Requests()).FromHeight)
}
