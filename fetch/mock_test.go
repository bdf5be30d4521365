package fetch

import (
	"context"
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	cwtypes "github.com/0xmhha/chainwatch/types"
)

// mockClient is an in-memory node for fetcher tests
type mockClient struct {
	mu        sync.Mutex
	blocks    map[uint64]*cwtypes.BlockSummary
	txs       map[common.Hash]*types.Transaction
	receipts  map[common.Hash]*types.Receipt
	txErrs    map[common.Hash]error
	rcptErrs  map[common.Hash]error
	blockErrs map[uint64]error

	// gate, when set, holds every transaction lookup until it is closed
	gate chan struct{}
}

func newMockClient() *mockClient {
	return &mockClient{
		blocks:    make(map[uint64]*cwtypes.BlockSummary),
		txs:       make(map[common.Hash]*types.Transaction),
		receipts:  make(map[common.Hash]*types.Receipt),
		txErrs:    make(map[common.Hash]error),
		rcptErrs:  make(map[common.Hash]error),
		blockErrs: make(map[uint64]error),
	}
}

func (m *mockClient) addBlock(number uint64, txs ...*types.Transaction) {
	m.mu.Lock()
	defer m.mu.Unlock()

	block := &cwtypes.BlockSummary{Number: number, Timestamp: 1000 + number}
	for _, tx := range txs {
		block.Transactions = append(block.Transactions, tx.Hash())
		m.txs[tx.Hash()] = tx
	}
	m.blocks[number] = block
}

func (m *mockClient) setReceipt(hash common.Hash, receipt *types.Receipt) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if receipt == nil {
		delete(m.receipts, hash)
		return
	}
	m.receipts[hash] = receipt
}

func (m *mockClient) GetBlockSummary(ctx context.Context, number uint64) (*cwtypes.BlockSummary, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err, ok := m.blockErrs[number]; ok {
		return nil, err
	}
	block, ok := m.blocks[number]
	if !ok {
		return nil, fmt.Errorf("failed to get block %d: %w", number, ethereum.NotFound)
	}
	return block, nil
}

func (m *mockClient) GetTransactionByHash(ctx context.Context, hash common.Hash) (*types.Transaction, bool, error) {
	m.mu.Lock()
	gate := m.gate
	m.mu.Unlock()
	if gate != nil {
		<-gate
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if err, ok := m.txErrs[hash]; ok {
		return nil, false, err
	}
	tx, ok := m.txs[hash]
	if !ok {
		return nil, false, fmt.Errorf("failed to get transaction %s: %w", hash.Hex(), ethereum.NotFound)
	}
	return tx, false, nil
}

func (m *mockClient) GetTransactionReceipt(ctx context.Context, hash common.Hash) (*types.Receipt, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err, ok := m.rcptErrs[hash]; ok {
		return nil, err
	}
	return m.receipts[hash], nil
}
