package monitor

import (
	"context"
	"errors"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/0xmhha/chainwatch/abi"
	"github.com/0xmhha/chainwatch/events"
	"github.com/0xmhha/chainwatch/internal/testutil"
	cwtypes "github.com/0xmhha/chainwatch/types"
)

var (
	tokenAddr = common.HexToAddress("0x5FbDB2315678afecb367f032d93F642f64180aa3")
	alice     = common.HexToAddress("0x70997970C51812dc3A010C7d01b50e0d17dc79C8")
	bob       = common.HexToAddress("0x3C44CdDdB6a900fa2b585dd299e03d12FA4293BC")
)

type fakeSub struct {
	errCh chan error
}

func (s *fakeSub) Err() <-chan error { return s.errCh }
func (s *fakeSub) Unsubscribe()      {}

// fakeNode implements Node over in-memory blocks and logs
type fakeNode struct {
	mu        sync.Mutex
	latest    uint64
	blocks    map[uint64]*cwtypes.BlockSummary
	txs       map[common.Hash]*types.Transaction
	receipts  map[common.Hash]*types.Receipt
	logs      []types.Log
	filterErr error

	// filterGate, when set, holds FilterLogs until closed or ctx ends;
	// filtering is signalled once the query is in flight
	filterGate chan struct{}
	filtering  chan struct{}

	heads   chan<- *types.Header
	headSub *fakeSub
	logSub  *fakeSub
}

func newFakeNode() *fakeNode {
	return &fakeNode{
		latest:   10,
		blocks:   make(map[uint64]*cwtypes.BlockSummary),
		txs:      make(map[common.Hash]*types.Transaction),
		receipts: make(map[common.Hash]*types.Receipt),
	}
}

func (n *fakeNode) GetBlockSummary(_ context.Context, number uint64) (*cwtypes.BlockSummary, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if b, ok := n.blocks[number]; ok {
		return b, nil
	}
	return &cwtypes.BlockSummary{Number: number, Timestamp: 1000 + number}, nil
}

func (n *fakeNode) GetTransactionByHash(_ context.Context, hash common.Hash) (*types.Transaction, bool, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	tx, ok := n.txs[hash]
	if !ok {
		return nil, false, ethereum.NotFound
	}
	return tx, false, nil
}

func (n *fakeNode) GetTransactionReceipt(_ context.Context, hash common.Hash) (*types.Receipt, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.receipts[hash], nil
}

func (n *fakeNode) SubscribeNewHead(_ context.Context, ch chan<- *types.Header) (ethereum.Subscription, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.heads = ch
	n.headSub = &fakeSub{errCh: make(chan error, 1)}
	return n.headSub, nil
}

func (n *fakeNode) GetLatestBlockNumber(context.Context) (uint64, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.latest, nil
}

func (n *fakeNode) FilterLogs(ctx context.Context, _ ethereum.FilterQuery) ([]types.Log, error) {
	if n.filterGate != nil {
		n.filtering <- struct{}{}
		select {
		case <-n.filterGate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.filterErr != nil {
		return nil, n.filterErr
	}
	return n.logs, nil
}

func (n *fakeNode) SubscribeFilterLogs(context.Context, ethereum.FilterQuery, chan<- types.Log) (ethereum.Subscription, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.logSub = &fakeSub{errCh: make(chan error, 1)}
	return n.logSub, nil
}

func (n *fakeNode) CallContract(context.Context, ethereum.CallMsg) ([]byte, error) {
	return nil, errors.New("execution reverted")
}

func testConfig() *Config {
	return &Config{
		EnableTransactions: true,
		EnableTransfers:    true,
		Capacity:           10,
		BackfillBlocks:     1000,
		PollInterval:       time.Second,
		ContractAddress:    tokenAddr,
	}
}

func newTestMonitor(t *testing.T, node *fakeNode, cfg *Config, bus *events.EventBus) *Monitor {
	t.Helper()
	decoder := abi.NewDecoder()
	require.NoError(t, decoder.LoadABI(tokenAddr, "token", abi.ERC20ABI))

	m, err := New(node, decoder, cfg, testutil.NewTestLogger(t), bus)
	require.NoError(t, err)
	t.Cleanup(m.Stop)
	return m
}

func statusOf(m *Monitor, feed string) FeedStatus {
	for _, st := range m.Status() {
		if st.Feed == feed {
			return st
		}
	}
	return FeedStatus{}
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{name: "valid", mutate: func(*Config) {}},
		{name: "no feeds", mutate: func(c *Config) { c.EnableTransactions, c.EnableTransfers = false, false }, wantErr: true},
		{name: "zero capacity", mutate: func(c *Config) { c.Capacity = 0 }, wantErr: true},
		{name: "zero window", mutate: func(c *Config) { c.BackfillBlocks = 0 }, wantErr: true},
		{name: "missing contract", mutate: func(c *Config) { c.ContractAddress = common.Address{} }, wantErr: true},
		{name: "transactions only", mutate: func(c *Config) {
			c.EnableTransfers = false
			c.ContractAddress = common.Address{}
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestNew_UnknownEvent(t *testing.T) {
	decoder := abi.NewDecoder()
	require.NoError(t, decoder.LoadABI(tokenAddr, "token", abi.ERC20ABI))

	cfg := testConfig()
	cfg.EventName = "Minted"
	_, err := New(newFakeNode(), decoder, cfg, nil, nil)
	assert.Error(t, err)
}

func TestMonitor_StartBothFeeds(t *testing.T) {
	node := newFakeNode()
	for i := uint64(1); i <= 3; i++ {
		node.logs = append(node.logs, testutil.NewTransferLog(tokenAddr, alice, bob, big.NewInt(int64(i)), i, testutil.HashN(i), 0))
	}

	key, _ := testutil.NewTestKey(t)
	tx := testutil.NewSignedTx(t, key, 0, &bob, big.NewInt(1))
	node.txs[tx.Hash()] = tx
	node.receipts[tx.Hash()] = testutil.NewTestReceipt(tx.Hash(), 11, types.ReceiptStatusSuccessful)
	node.blocks[11] = &cwtypes.BlockSummary{Number: 11, Timestamp: 1011, Transactions: []common.Hash{tx.Hash()}}

	m := newTestMonitor(t, node, testConfig(), nil)
	require.NoError(t, m.Start(context.Background()))

	assert.True(t, statusOf(m, FeedTransactions).Connected)
	assert.True(t, statusOf(m, FeedTransfers).Connected)

	// backfill completed during Start
	transfers := m.Transfers()
	require.Len(t, transfers, 3)
	assert.Equal(t, testutil.HashN(3), transfers[0].TransactionHash)

	// token calls revert, decimals fall back to 18
	metadata := m.Token()
	require.NotNil(t, metadata)
	assert.Equal(t, uint8(18), metadata.Decimals)
	assert.Len(t, metadata.Errors, 3)

	node.heads <- &types.Header{Number: big.NewInt(11)}
	require.Eventually(t, func() bool { return len(m.Transactions()) == 1 }, time.Second, 5*time.Millisecond)

	record, ok := m.Transaction(tx.Hash())
	require.True(t, ok)
	assert.Equal(t, cwtypes.TxStatusConfirmed, record.Status)

	m.Stop()
	assert.False(t, statusOf(m, FeedTransactions).Connected)
	assert.False(t, statusOf(m, FeedTransfers).Connected)
}

func TestMonitor_TransfersSetupFailure(t *testing.T) {
	node := newFakeNode()
	node.filterErr = errors.New("query timeout exceeded")

	m := newTestMonitor(t, node, testConfig(), nil)
	err := m.Start(context.Background())
	require.Error(t, err)
	assert.True(t, errors.Is(err, cwtypes.ErrConnection))

	transfers := statusOf(m, FeedTransfers)
	assert.False(t, transfers.Connected)
	assert.Contains(t, transfers.LastError, "query timeout exceeded")

	// the other feed is unaffected
	assert.True(t, statusOf(m, FeedTransactions).Connected)
}

func TestMonitor_MidStreamFailure(t *testing.T) {
	bus := events.NewEventBus(100, 10)
	go bus.Run()
	defer bus.Stop()

	sub, err := bus.Subscribe("status", []events.EventType{events.EventTypeFeedStatus}, 10)
	require.NoError(t, err)
	require.Eventually(t, func() bool { return bus.SubscriberCount() == 1 }, time.Second, 5*time.Millisecond)

	cfg := testConfig()
	cfg.EnableTransfers = false
	node := newFakeNode()
	m := newTestMonitor(t, node, cfg, bus)
	require.NoError(t, m.Start(context.Background()))

	expectStatus := func(connected bool) *events.FeedStatusEvent {
		t.Helper()
		select {
		case ev := <-sub.Channel:
			st, ok := ev.(*events.FeedStatusEvent)
			require.True(t, ok)
			assert.Equal(t, FeedTransactions, st.Feed)
			assert.Equal(t, connected, st.Connected)
			return st
		case <-time.After(time.Second):
			t.Fatal("timeout waiting for feed status")
			return nil
		}
	}
	expectStatus(true)

	node.headSub.errCh <- errors.New("websocket: close 1006 (abnormal closure)")

	st := expectStatus(false)
	assert.Contains(t, st.LastError, "abnormal closure")
	assert.False(t, statusOf(m, FeedTransactions).Connected)
	assert.False(t, statusOf(m, FeedTransfers).Enabled)
	assert.Empty(t, m.Transfers())
}

func TestMonitor_StopDuringBackfill(t *testing.T) {
	node := newFakeNode()
	node.filterGate = make(chan struct{})
	node.filtering = make(chan struct{}, 1)

	cfg := testConfig()
	cfg.EnableTransactions = false
	m := newTestMonitor(t, node, cfg, nil)

	started := make(chan error, 1)
	go func() { started <- m.Start(context.Background()) }()

	select {
	case <-node.filtering:
	case <-time.After(time.Second):
		t.Fatal("backfill query not issued")
	}
	m.Stop()

	select {
	case err := <-started:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Start did not return after Stop")
	}

	transfers := statusOf(m, FeedTransfers)
	assert.False(t, transfers.Connected)
	assert.Empty(t, transfers.LastError)
	assert.Empty(t, m.Transfers())
}
