package fetch

import (
	"context"
	"errors"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/0xmhha/chainwatch/events"
	cwtestutil "github.com/0xmhha/chainwatch/internal/testutil"
	cwtypes "github.com/0xmhha/chainwatch/types"
)

type fixture struct {
	client *mockClient
	sign   func(nonce uint64, to *common.Address) *types.Transaction
}

func newFixture(t *testing.T) *fixture {
	key, _ := cwtestutil.NewTestKey(t)
	return &fixture{
		client: newMockClient(),
		sign: func(nonce uint64, to *common.Address) *types.Transaction {
			return cwtestutil.NewSignedTx(t, key, nonce, to, big.NewInt(int64(nonce+1)))
		},
	}
}

func (fx *fixture) tx(nonce uint64) *types.Transaction {
	to := common.HexToAddress("0xbeef")
	return fx.sign(nonce, &to)
}

func (fx *fixture) confirm(tx *types.Transaction, block uint64) {
	fx.client.setReceipt(tx.Hash(), cwtestutil.NewTestReceipt(tx.Hash(), block, types.ReceiptStatusSuccessful))
}

func (fx *fixture) fail(tx *types.Transaction, block uint64) {
	fx.client.setReceipt(tx.Hash(), cwtestutil.NewTestReceipt(tx.Hash(), block, types.ReceiptStatusFailed))
}

func newTestFetcher(t *testing.T, client Client, capacity int, bus *events.EventBus) *Fetcher {
	t.Helper()
	cfg := &Config{Capacity: capacity, ResolveTimeout: time.Second}
	require.NoError(t, cfg.Validate())
	f := NewFetcher(client, cfg, cwtestutil.NewTestLogger(t), bus)
	f.SetMetrics(NewMetrics(prometheus.NewRegistry(), "test"))
	f.Start()
	return f
}

func hashes(records []cwtypes.TransactionRecord) []common.Hash {
	out := make([]common.Hash, len(records))
	for i, r := range records {
		out[i] = r.Hash
	}
	return out
}

func TestConfig_Validate(t *testing.T) {
	assert.Error(t, (&Config{Capacity: 0}).Validate())
	assert.Error(t, (&Config{Capacity: 10, ResolveTimeout: -time.Second}).Validate())
	assert.NoError(t, (&Config{Capacity: 10}).Validate())
}

func TestFetcher_ThreeTransactionsOneFails(t *testing.T) {
	fx := newFixture(t)
	t1, t2, t3 := fx.tx(0), fx.tx(1), fx.tx(2)
	fx.client.addBlock(100, t1, t2, t3)
	fx.confirm(t1, 100)
	fx.fail(t3, 100)
	fx.client.txErrs[t2.Hash()] = errors.New("upstream timeout")

	f := newTestFetcher(t, fx.client, 10, nil)
	require.NoError(t, f.ProcessBlock(context.Background(), 100))

	snapshot := f.Snapshot()
	require.Len(t, snapshot, 2)
	assert.Equal(t, []common.Hash{t3.Hash(), t1.Hash()}, hashes(snapshot))
	assert.Equal(t, cwtypes.TxStatusFailed, snapshot[0].Status)
	assert.Equal(t, cwtypes.TxStatusConfirmed, snapshot[1].Status)
	assert.Equal(t, uint64(100), snapshot[0].BlockNumber)

	assert.Equal(t, float64(1), testutil.ToFloat64(f.metrics.ResolveFailures.WithLabelValues("rpc")))
	assert.Equal(t, float64(1), testutil.ToFloat64(f.metrics.BlocksTotal))
}

func TestFetcher_StatusMonotonic(t *testing.T) {
	fx := newFixture(t)
	tx := fx.tx(0)
	fx.client.addBlock(1, tx)

	f := newTestFetcher(t, fx.client, 10, nil)

	require.NoError(t, f.ProcessBlock(context.Background(), 1))
	record, ok := f.Get(tx.Hash())
	require.True(t, ok)
	assert.Equal(t, cwtypes.TxStatusPending, record.Status)

	fx.confirm(tx, 1)
	fx.client.addBlock(2, tx)
	require.NoError(t, f.ProcessBlock(context.Background(), 2))
	record, _ = f.Get(tx.Hash())
	assert.Equal(t, cwtypes.TxStatusConfirmed, record.Status)

	// a later lookup that races ahead of the receipt must not downgrade the record
	fx.client.setReceipt(tx.Hash(), nil)
	fx.client.addBlock(3, tx)
	require.NoError(t, f.ProcessBlock(context.Background(), 3))
	record, _ = f.Get(tx.Hash())
	assert.Equal(t, cwtypes.TxStatusConfirmed, record.Status)
	assert.Len(t, f.Snapshot(), 1)
}

func TestFetcher_BoundedNewestFirst(t *testing.T) {
	fx := newFixture(t)
	var txs []*types.Transaction
	for i := uint64(0); i < 12; i++ {
		tx := fx.tx(i)
		fx.confirm(tx, 7)
		txs = append(txs, tx)
	}
	fx.client.addBlock(7, txs...)

	f := newTestFetcher(t, fx.client, 10, nil)
	require.NoError(t, f.ProcessBlock(context.Background(), 7))

	snapshot := f.Snapshot()
	require.Len(t, snapshot, 10)
	assert.Equal(t, txs[11].Hash(), snapshot[0].Hash)
	assert.Equal(t, txs[2].Hash(), snapshot[9].Hash)
}

func TestFetcher_BlockFetchFailure(t *testing.T) {
	fx := newFixture(t)
	tx := fx.tx(0)
	fx.client.addBlock(1, tx)
	fx.client.blockErrs[2] = errors.New("503 service unavailable")

	f := newTestFetcher(t, fx.client, 10, nil)
	require.NoError(t, f.ProcessBlock(context.Background(), 1))

	err := f.ProcessBlock(context.Background(), 2)
	require.Error(t, err)
	assert.True(t, errors.Is(err, cwtypes.ErrResolution))
	assert.Len(t, f.Snapshot(), 1)
	assert.True(t, f.Running())
}

func TestFetcher_UnknownTransactionDropped(t *testing.T) {
	fx := newFixture(t)
	known := fx.tx(0)
	fx.client.addBlock(1, known)
	block := fx.client.blocks[1]
	block.Transactions = append(block.Transactions, common.HexToHash("0xdead"))

	f := newTestFetcher(t, fx.client, 10, nil)
	require.NoError(t, f.ProcessBlock(context.Background(), 1))

	assert.Equal(t, []common.Hash{known.Hash()}, hashes(f.Snapshot()))
	assert.Equal(t, float64(1), testutil.ToFloat64(f.metrics.ResolveFailures.WithLabelValues("not_found")))
}

func TestFetcher_StopDiscardsInFlight(t *testing.T) {
	fx := newFixture(t)
	tx := fx.tx(0)
	fx.client.addBlock(1, tx)
	fx.client.gate = make(chan struct{})

	f := newTestFetcher(t, fx.client, 10, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	blocks := make(chan uint64, 1)
	go func() { _ = f.Run(ctx, blocks) }()
	blocks <- 1

	require.Eventually(t, func() bool {
		return testutil.ToFloat64(f.metrics.InFlight) == 1
	}, time.Second, 5*time.Millisecond)

	stopped := make(chan struct{})
	go func() {
		f.Stop()
		close(stopped)
	}()
	require.Eventually(t, func() bool { return !f.Running() }, time.Second, 5*time.Millisecond)

	close(fx.client.gate)
	select {
	case <-stopped:
	case <-time.After(time.Second):
		t.Fatal("Stop did not return")
	}

	assert.Empty(t, f.Snapshot())
	assert.Equal(t, float64(1), testutil.ToFloat64(f.metrics.StaleTotal))
}

func TestFetcher_RestartResetsView(t *testing.T) {
	fx := newFixture(t)
	tx := fx.tx(0)
	fx.client.addBlock(1, tx)

	f := newTestFetcher(t, fx.client, 10, nil)
	require.NoError(t, f.ProcessBlock(context.Background(), 1))
	require.Len(t, f.Snapshot(), 1)

	f.Stop()
	f.Start()
	assert.Empty(t, f.Snapshot())
}

func TestFetcher_RunPublishesSnapshots(t *testing.T) {
	bus := events.NewEventBus(100, 10)
	go bus.Run()
	defer bus.Stop()

	sub, err := bus.Subscribe("test", []events.EventType{events.EventTypeTransactions}, 10)
	require.NoError(t, err)
	time.Sleep(10 * time.Millisecond)

	fx := newFixture(t)
	t1, t2 := fx.tx(0), fx.tx(1)
	fx.client.addBlock(1, t1)
	fx.client.addBlock(2, t2)
	fx.confirm(t1, 1)

	f := newTestFetcher(t, fx.client, 10, bus)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	blocks := make(chan uint64, 2)
	done := make(chan error, 1)
	go func() { done <- f.Run(ctx, blocks) }()
	blocks <- 1
	blocks <- 2
	close(blocks)

	require.NoError(t, <-done)
	require.Eventually(t, func() bool { return len(f.Snapshot()) == 2 }, time.Second, 5*time.Millisecond)
	f.Stop()

	// intermediate snapshots may be superseded on the bus; the last one
	// carries both records
	latest := 0
	timeout := time.After(time.Second)
	for latest < 2 {
		select {
		case ev := <-sub.Channel:
			snapshot, ok := ev.(*events.TransactionsEvent)
			require.True(t, ok)
			assert.NotEmpty(t, snapshot.Records)
			latest = len(snapshot.Records)
		case <-timeout:
			t.Fatalf("latest snapshot held %d records, want 2", latest)
		}
	}
}

func TestFetcher_ProcessBlockBeforeStart(t *testing.T) {
	f := NewFetcher(newMockClient(), &Config{Capacity: 10}, nil, nil)
	assert.Error(t, f.ProcessBlock(context.Background(), 1))
}
