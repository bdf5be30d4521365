package events

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/rpc"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	cwtypes "github.com/0xmhha/chainwatch/types"
)

type fakeSubscription struct {
	errCh        chan error
	unsubscribed atomic.Bool
}

func (s *fakeSubscription) Err() <-chan error { return s.errCh }
func (s *fakeSubscription) Unsubscribe()      { s.unsubscribed.Store(true) }

type mockLogClient struct {
	mu      sync.Mutex
	logs    chan<- types.Log
	sub     *fakeSubscription
	subErr  error
	latest  atomic.Uint64
	windows [][2]uint64

	// failFilter makes the next FilterLogs calls fail
	failFilter atomic.Int32
}

func (m *mockLogClient) SubscribeFilterLogs(_ context.Context, _ ethereum.FilterQuery, ch chan<- types.Log) (ethereum.Subscription, error) {
	if m.subErr != nil {
		return nil, m.subErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.logs = ch
	m.sub = &fakeSubscription{errCh: make(chan error, 1)}
	return m.sub, nil
}

func (m *mockLogClient) FilterLogs(_ context.Context, q ethereum.FilterQuery) ([]types.Log, error) {
	if m.failFilter.Load() > 0 {
		m.failFilter.Add(-1)
		return nil, errors.New("upstream timeout")
	}
	from, to := q.FromBlock.Uint64(), q.ToBlock.Uint64()

	m.mu.Lock()
	m.windows = append(m.windows, [2]uint64{from, to})
	m.mu.Unlock()

	var out []types.Log
	for n := from; n <= to; n++ {
		out = append(out, transferLog(n))
	}
	return out, nil
}

func (m *mockLogClient) GetLatestBlockNumber(context.Context) (uint64, error) {
	return m.latest.Load(), nil
}

func (m *mockLogClient) recordedWindows() [][2]uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([][2]uint64(nil), m.windows...)
}

func receiveBlocks(t *testing.T, ch <-chan types.Log, n int) []uint64 {
	t.Helper()
	var got []uint64
	timeout := time.After(2 * time.Second)
	for len(got) < n {
		select {
		case log, ok := <-ch:
			require.True(t, ok, "feed closed early")
			got = append(got, log.BlockNumber)
		case <-timeout:
			t.Fatalf("received logs of blocks %v, want %d logs", got, n)
		}
	}
	return got
}

func TestLogFeed_Subscription(t *testing.T) {
	client := &mockLogClient{}
	feed := NewLogFeed(client, time.Second, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	out, err := feed.Subscribe(ctx, ethereum.FilterQuery{})
	require.NoError(t, err)

	client.logs <- transferLog(3)
	client.logs <- transferLog(4)
	assert.Equal(t, []uint64{3, 4}, receiveBlocks(t, out, 2))

	cancel()
	require.Eventually(t, func() bool { return client.sub.unsubscribed.Load() }, time.Second, 5*time.Millisecond)
}

func TestLogFeed_SubscriptionError(t *testing.T) {
	client := &mockLogClient{}
	feed := NewLogFeed(client, time.Second, nil)

	out, err := feed.Subscribe(context.Background(), ethereum.FilterQuery{})
	require.NoError(t, err)

	client.sub.errCh <- errors.New("websocket: close 1006 (abnormal closure)")

	select {
	case err := <-feed.Err():
		assert.True(t, errors.Is(err, cwtypes.ErrConnection))
	case <-time.After(time.Second):
		t.Fatal("no error reported")
	}

	select {
	case _, ok := <-out:
		assert.False(t, ok)
	case <-time.After(time.Second):
		t.Fatal("feed not closed")
	}
}

func TestLogFeed_SetupFailure(t *testing.T) {
	client := &mockLogClient{subErr: errors.New("dial tcp: connection refused")}
	_, err := NewLogFeed(client, time.Second, nil).Subscribe(context.Background(), ethereum.FilterQuery{})
	require.Error(t, err)
	assert.True(t, errors.Is(err, cwtypes.ErrConnection))
}

func TestLogFeed_PollingFallback(t *testing.T) {
	client := &mockLogClient{
		subErr: fmt.Errorf("subscribe logs: %w", rpc.ErrNotificationsUnsupported),
	}
	client.latest.Store(5)

	feed := NewLogFeed(client, 10*time.Millisecond, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	out, err := feed.Subscribe(ctx, ethereum.FilterQuery{})
	require.NoError(t, err)

	client.latest.Store(7)
	assert.Equal(t, []uint64{6, 7}, receiveBlocks(t, out, 2))

	// a failed query is retried over the same range
	client.failFilter.Store(2)
	client.latest.Store(9)
	assert.Equal(t, []uint64{8, 9}, receiveBlocks(t, out, 2))

	assert.Equal(t, [][2]uint64{{6, 7}, {8, 9}}, client.recordedWindows())
}
