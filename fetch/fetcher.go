package fetch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/0xmhha/chainwatch/events"
	"github.com/0xmhha/chainwatch/store"
	cwtypes "github.com/0xmhha/chainwatch/types"
)

// Client defines the node calls used by the fetcher
type Client interface {
	TxClient
	GetBlockSummary(ctx context.Context, number uint64) (*cwtypes.BlockSummary, error)
}

// Config holds fetcher configuration
type Config struct {
	// Capacity is the number of transactions kept in the view
	Capacity int

	// ResolveTimeout bounds a single transaction resolution. Zero disables it.
	ResolveTimeout time.Duration
}

// Validate validates the fetcher configuration
func (c *Config) Validate() error {
	if c.Capacity <= 0 {
		return fmt.Errorf("capacity must be positive")
	}
	if c.ResolveTimeout < 0 {
		return fmt.Errorf("resolve timeout cannot be negative")
	}
	return nil
}

// session is one Start/Stop cycle of the fetcher
type session struct {
	id    uint64
	alive atomic.Bool
}

// Fetcher turns block notifications into the transactions view.
//
// Every notification is handled in its own goroutine: the block summary is
// fetched, each transaction is resolved concurrently, and the results are
// applied in block order once all of them completed. Results of a stopped
// session never reach the store.
type Fetcher struct {
	client   Client
	resolver *Resolver
	config   *Config
	logger   *zap.Logger
	eventBus *events.EventBus
	metrics  *Metrics

	store *store.Recency[common.Hash, cwtypes.TransactionRecord]

	// mu orders store writes against session changes
	mu       sync.RWMutex
	session  *session
	sessions uint64
	wg       sync.WaitGroup

	// applyMu keeps the records of one block contiguous in the view
	applyMu sync.Mutex
}

// NewFetcher creates a new Fetcher instance.
// eventBus is optional - if nil, no snapshots will be published
func NewFetcher(client Client, config *Config, logger *zap.Logger, eventBus *events.EventBus) *Fetcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Fetcher{
		client:   client,
		resolver: NewResolver(client, config.ResolveTimeout, logger),
		config:   config,
		logger:   logger,
		eventBus: eventBus,
		store: store.NewRecency[common.Hash, cwtypes.TransactionRecord](
			config.Capacity,
			store.WithMerge[common.Hash, cwtypes.TransactionRecord](cwtypes.MergeTransactionRecords),
		),
	}
}

// SetMetrics enables Prometheus metrics for the fetcher
func (f *Fetcher) SetMetrics(metrics *Metrics) {
	f.metrics = metrics
}

// Start begins a new session with an empty view
func (f *Fetcher) Start() {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.session != nil {
		f.session.alive.Store(false)
	}
	f.sessions++
	s := &session{id: f.sessions}
	s.alive.Store(true)
	f.session = s
	f.store.Reset()

	f.logger.Info("Transactions session started", zap.Uint64("session", s.id))
}

// Stop ends the current session and waits for in-flight blocks to finish.
// Their results are discarded.
func (f *Fetcher) Stop() {
	f.mu.Lock()
	if f.session != nil {
		f.session.alive.Store(false)
		f.logger.Info("Transactions session stopped", zap.Uint64("session", f.session.id))
	}
	f.mu.Unlock()

	f.wg.Wait()
}

// Running reports whether a session is active
func (f *Fetcher) Running() bool {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.session != nil && f.session.alive.Load()
}

// Run consumes block notifications until the channel closes or ctx is cancelled.
// Each notification is processed concurrently and is not waited for here.
func (f *Fetcher) Run(ctx context.Context, blocks <-chan uint64) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case number, ok := <-blocks:
			if !ok {
				return nil
			}
			s, ok := f.track()
			if !ok {
				continue
			}

			f.metrics.addInFlight(1)
			go func(number uint64) {
				defer f.wg.Done()
				defer f.metrics.addInFlight(-1)
				if err := f.processBlock(ctx, s, number); err != nil {
					f.logger.Warn("Dropped block notification",
						zap.Uint64("block", number),
						zap.Error(err),
					)
				}
			}(number)
		}
	}
}

// ProcessBlock resolves every transaction of a block and applies the results
// to the view of the current session
func (f *Fetcher) ProcessBlock(ctx context.Context, number uint64) error {
	s := f.currentSession()
	if s == nil {
		return fmt.Errorf("fetcher not started")
	}
	return f.processBlock(ctx, s, number)
}

// track registers an in-flight notification with the live session.
// Registration and Stop are serialized so Stop never misses one.
func (f *Fetcher) track() (*session, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	if f.session == nil || !f.session.alive.Load() {
		return nil, false
	}
	f.wg.Add(1)
	return f.session, true
}

func (f *Fetcher) currentSession() *session {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.session
}

func (f *Fetcher) processBlock(ctx context.Context, s *session, number uint64) error {
	start := time.Now()

	block, err := f.client.GetBlockSummary(ctx, number)
	if err != nil {
		f.metrics.recordBlock(0, true)
		return fmt.Errorf("%w: block %d: %v", cwtypes.ErrResolution, number, err)
	}

	records := f.resolveAll(ctx, block)

	applied := f.apply(s, number, records)
	if !applied {
		f.metrics.recordStale()
		f.logger.Debug("Discarded results of stopped session",
			zap.Uint64("block", number),
			zap.Uint64("session", s.id),
		)
		return nil
	}

	f.metrics.recordBlock(time.Since(start), false)
	f.logger.Debug("Applied block",
		zap.Uint64("block", number),
		zap.Int("txs", len(block.Transactions)),
		zap.Duration("duration", time.Since(start)),
	)

	return nil
}

// resolveAll fans out one resolution per transaction and waits for all of them.
// Failed resolutions leave a nil slot.
func (f *Fetcher) resolveAll(ctx context.Context, block *cwtypes.BlockSummary) []*cwtypes.TransactionRecord {
	records := make([]*cwtypes.TransactionRecord, len(block.Transactions))

	var wg sync.WaitGroup
	for i, hash := range block.Transactions {
		wg.Add(1)
		go func(i int, hash common.Hash) {
			defer wg.Done()

			record, err := f.resolver.Resolve(ctx, hash)
			switch {
			case errors.Is(err, cwtypes.ErrTxNotFound):
				f.metrics.recordResolveFailure("not_found")
				f.logger.Debug("Transaction not found",
					zap.String("tx_hash", hash.Hex()),
					zap.Uint64("block", block.Number),
				)
				return
			case err != nil:
				f.metrics.recordResolveFailure("rpc")
				f.logger.Warn("Failed to resolve transaction",
					zap.String("tx_hash", hash.Hex()),
					zap.Uint64("block", block.Number),
					zap.Error(err),
				)
				return
			}

			f.metrics.recordResolved(record.Status)
			records[i] = record
		}(i, hash)
	}
	wg.Wait()

	return records
}

// apply upserts records in block order so the last transaction ends at the head.
// It reports false when the session is no longer alive.
func (f *Fetcher) apply(s *session, number uint64, records []*cwtypes.TransactionRecord) bool {
	f.mu.RLock()
	defer f.mu.RUnlock()

	if !s.alive.Load() || f.session != s {
		return false
	}

	f.applyMu.Lock()
	defer f.applyMu.Unlock()

	for _, record := range records {
		if record == nil {
			continue
		}
		record.BlockNumber = number
		f.store.Upsert(record.Hash, *record)
	}

	if f.eventBus != nil {
		if !f.eventBus.Publish(events.NewTransactionsEvent(number, f.store.Snapshot())) {
			f.logger.Warn("Failed to publish transactions snapshot", zap.Uint64("block", number))
		}
	}
	return true
}

// Snapshot returns the transactions view, newest first
func (f *Fetcher) Snapshot() []cwtypes.TransactionRecord {
	return f.store.Snapshot()
}

// Get returns the record stored for hash
func (f *Fetcher) Get(hash common.Hash) (cwtypes.TransactionRecord, bool) {
	return f.store.Get(hash)
}
