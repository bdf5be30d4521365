package fetch

import (
	"context"
	"errors"
	"fmt"
	"math/big"
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

func newFakeSubscription() *fakeSubscription {
	return &fakeSubscription{errCh: make(chan error, 1)}
}

func (s *fakeSubscription) Err() <-chan error { return s.errCh }
func (s *fakeSubscription) Unsubscribe()      { s.unsubscribed.Store(true) }

type mockHeadClient struct {
	mu        sync.Mutex
	heads     chan<- *types.Header
	sub       *fakeSubscription
	subErr    error
	latest    atomic.Uint64
	latestErr error
}

func (m *mockHeadClient) SubscribeNewHead(ctx context.Context, ch chan<- *types.Header) (ethereum.Subscription, error) {
	if m.subErr != nil {
		return nil, m.subErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.heads = ch
	m.sub = newFakeSubscription()
	return m.sub, nil
}

func (m *mockHeadClient) GetLatestBlockNumber(ctx context.Context) (uint64, error) {
	if m.latestErr != nil {
		return 0, m.latestErr
	}
	return m.latest.Load(), nil
}

func receiveN(t *testing.T, ch <-chan uint64, n int) []uint64 {
	t.Helper()
	var got []uint64
	timeout := time.After(2 * time.Second)
	for len(got) < n {
		select {
		case v, ok := <-ch:
			require.True(t, ok, "feed closed early")
			got = append(got, v)
		case <-timeout:
			t.Fatalf("received %v, want %d numbers", got, n)
		}
	}
	return got
}

func TestBlockFeed_Subscription(t *testing.T) {
	client := &mockHeadClient{}
	feed := NewBlockFeed(client, time.Second, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	out, err := feed.Subscribe(ctx)
	require.NoError(t, err)

	client.heads <- &types.Header{Number: big.NewInt(41)}
	client.heads <- &types.Header{Number: big.NewInt(42)}
	assert.Equal(t, []uint64{41, 42}, receiveN(t, out, 2))

	cancel()
	require.Eventually(t, func() bool { return client.sub.unsubscribed.Load() }, time.Second, 5*time.Millisecond)
}

func TestBlockFeed_SubscriptionError(t *testing.T) {
	client := &mockHeadClient{}
	feed := NewBlockFeed(client, time.Second, nil)

	out, err := feed.Subscribe(context.Background())
	require.NoError(t, err)

	client.sub.errCh <- errors.New("websocket closed")

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

func TestBlockFeed_SetupFailure(t *testing.T) {
	client := &mockHeadClient{subErr: errors.New("dial tcp: connection refused")}
	_, err := NewBlockFeed(client, time.Second, nil).Subscribe(context.Background())
	require.Error(t, err)
	assert.True(t, errors.Is(err, cwtypes.ErrConnection))
}

func TestBlockFeed_PollingFallback(t *testing.T) {
	client := &mockHeadClient{
		subErr: fmt.Errorf("failed to subscribe to new heads: %w", rpc.ErrNotificationsUnsupported),
	}
	client.latest.Store(5)

	feed := NewBlockFeed(client, 10*time.Millisecond, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	out, err := feed.Subscribe(ctx)
	require.NoError(t, err)

	client.latest.Store(8)
	assert.Equal(t, []uint64{6, 7, 8}, receiveN(t, out, 3))

	client.latest.Store(9)
	assert.Equal(t, []uint64{9}, receiveN(t, out, 1))
}

func TestBlockFeed_PollingSetupFailure(t *testing.T) {
	client := &mockHeadClient{
		subErr:    rpc.ErrNotificationsUnsupported,
		latestErr: errors.New("connection refused"),
	}
	_, err := NewBlockFeed(client, 10*time.Millisecond, nil).Subscribe(context.Background())
	require.Error(t, err)
	assert.True(t, errors.Is(err, cwtypes.ErrConnection))
}
