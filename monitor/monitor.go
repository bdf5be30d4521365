package monitor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/0xmhha/chainwatch/abi"
	"github.com/0xmhha/chainwatch/events"
	"github.com/0xmhha/chainwatch/fetch"
	"github.com/0xmhha/chainwatch/internal/logger"
	"github.com/0xmhha/chainwatch/token"
	cwtypes "github.com/0xmhha/chainwatch/types"
)

// Feed names
const (
	FeedTransactions = "transactions"
	FeedTransfers    = "transfers"
)

// Node is the set of node calls both feeds need
type Node interface {
	fetch.Client
	fetch.HeadClient
	events.LogClient
	events.BlockClient
	token.Caller
}

// Config holds monitor configuration
type Config struct {
	EnableTransactions bool
	EnableTransfers    bool

	Capacity       int
	BackfillBlocks uint64
	PollInterval   time.Duration
	ResolveTimeout time.Duration

	// ContractAddress is the token whose events are followed
	ContractAddress common.Address
	EventName       string
	AmountArg       string
}

// Validate validates the monitor configuration
func (c *Config) Validate() error {
	if !c.EnableTransactions && !c.EnableTransfers {
		return fmt.Errorf("at least one feed must be enabled")
	}
	if c.Capacity <= 0 {
		return fmt.Errorf("capacity must be positive")
	}
	if c.EnableTransfers {
		if c.BackfillBlocks == 0 {
			return fmt.Errorf("backfill window must be positive")
		}
		if c.ContractAddress == (common.Address{}) {
			return fmt.Errorf("contract address is required when the transfers feed is enabled")
		}
	}
	return nil
}

// FeedStatus is the connectivity state of one feed
type FeedStatus struct {
	Feed      string    `json:"feed"`
	Enabled   bool      `json:"enabled"`
	Connected bool      `json:"connected"`
	LastError string    `json:"lastError,omitempty"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Monitor owns the transactions and transfers feeds and tracks their
// connectivity. Views are read through Transactions and Transfers.
type Monitor struct {
	config   *Config
	logger   *zap.Logger
	eventBus *events.EventBus

	fetcher    *fetch.Fetcher
	blockFeed  *fetch.BlockFeed
	reconciler *events.Reconciler
	logFeed    *events.LogFeed
	token      *token.Reader

	mu       sync.RWMutex
	status   map[string]*FeedStatus
	metadata *token.Metadata
	cancel   context.CancelFunc
	wg       sync.WaitGroup
}

// New wires both feeds against node. The decoder must have the token ABI
// loaded for cfg.ContractAddress when the transfers feed is enabled.
func New(node Node, decoder *abi.Decoder, cfg *Config, log *zap.Logger, eventBus *events.EventBus) (*Monitor, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid monitor config: %w", err)
	}
	if log == nil {
		log = zap.NewNop()
	}

	m := &Monitor{
		config:   cfg,
		logger:   logger.WithComponent(log, "monitor"),
		eventBus: eventBus,
		status: map[string]*FeedStatus{
			FeedTransactions: {Feed: FeedTransactions, Enabled: cfg.EnableTransactions},
			FeedTransfers:    {Feed: FeedTransfers, Enabled: cfg.EnableTransfers},
		},
	}

	if cfg.EnableTransactions {
		fetcherCfg := &fetch.Config{Capacity: cfg.Capacity, ResolveTimeout: cfg.ResolveTimeout}
		if err := fetcherCfg.Validate(); err != nil {
			return nil, fmt.Errorf("invalid fetcher config: %w", err)
		}
		m.fetcher = fetch.NewFetcher(node, fetcherCfg, logger.WithComponent(log, "fetcher"), eventBus)
		m.blockFeed = fetch.NewBlockFeed(node, cfg.PollInterval, logger.WithComponent(log, "blockfeed"))
	}

	if cfg.EnableTransfers {
		eventName := cfg.EventName
		if eventName == "" {
			eventName = "Transfer"
		}
		topic, err := decoder.EventTopic(cfg.ContractAddress, eventName)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve %s topic: %w", eventName, err)
		}

		m.token = token.NewReader(node, decoder, cfg.ContractAddress, logger.WithComponent(log, "token"))
		normalizer := events.NewNormalizer(decoder, node, m.token, events.NormalizerConfig{
			EventName: eventName,
			AmountArg: cfg.AmountArg,
		}, logger.WithComponent(log, "normalizer"))

		reconcilerCfg := &events.ReconcilerConfig{
			Capacity:       cfg.Capacity,
			BackfillBlocks: cfg.BackfillBlocks,
			Query: ethereum.FilterQuery{
				Addresses: []common.Address{cfg.ContractAddress},
				Topics:    [][]common.Hash{{topic}},
			},
		}
		if err := reconcilerCfg.Validate(); err != nil {
			return nil, fmt.Errorf("invalid reconciler config: %w", err)
		}
		m.logFeed = events.NewLogFeed(node, cfg.PollInterval, logger.WithComponent(log, "logfeed"))
		m.reconciler = events.NewReconciler(node, m.logFeed, normalizer, reconcilerCfg, logger.WithComponent(log, "reconciler"), eventBus)
	}

	return m, nil
}

// SetMetrics enables Prometheus metrics on the feeds
func (m *Monitor) SetMetrics(fetchMetrics *fetch.Metrics, ingestMetrics *events.IngestMetrics) {
	if m.fetcher != nil {
		m.fetcher.SetMetrics(fetchMetrics)
	}
	if m.reconciler != nil {
		m.reconciler.SetMetrics(ingestMetrics)
	}
}

// Start connects the enabled feeds. A feed that cannot connect is marked
// disconnected with its error; the other feed keeps running. The returned
// error joins the setup failures of every feed.
func (m *Monitor) Start(ctx context.Context) error {
	m.Stop()

	ctx, cancel := context.WithCancel(ctx)
	m.mu.Lock()
	m.cancel = cancel
	m.mu.Unlock()

	var errs []error
	if m.fetcher != nil {
		if err := m.startTransactions(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	if m.reconciler != nil {
		if err := m.startTransfers(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (m *Monitor) startTransactions(ctx context.Context) error {
	m.fetcher.Start()

	blocks, err := m.blockFeed.Subscribe(ctx)
	if err != nil {
		m.fetcher.Stop()
		m.setStatus(FeedTransactions, false, err)
		return fmt.Errorf("transactions feed: %w", err)
	}
	m.setStatus(FeedTransactions, true, nil)

	m.wg.Add(2)
	go func() {
		defer m.wg.Done()
		if err := m.fetcher.Run(ctx, blocks); err != nil && !errors.Is(err, context.Canceled) {
			m.logger.Warn("Transactions feed stopped", zap.Error(err))
		}
	}()
	go m.watch(ctx, FeedTransactions, m.blockFeed.Err())

	return nil
}

func (m *Monitor) startTransfers(ctx context.Context) error {
	m.readMetadata(ctx)

	if err := m.reconciler.Start(ctx); err != nil {
		m.setStatus(FeedTransfers, false, err)
		return fmt.Errorf("transfers feed: %w", err)
	}
	// stopped while the backfill was running
	if ctx.Err() != nil || !m.reconciler.Running() {
		return nil
	}
	m.setStatus(FeedTransfers, true, nil)

	m.wg.Add(1)
	go m.watch(ctx, FeedTransfers, m.logFeed.Err())

	return nil
}

// readMetadata reads the token description once; decimals are cached by
// the reader for the normalizer
func (m *Monitor) readMetadata(ctx context.Context) {
	metadata := m.token.Metadata(ctx)
	m.mu.Lock()
	m.metadata = metadata
	m.mu.Unlock()

	m.logger.Info("Token metadata loaded",
		zap.String("address", metadata.Address.Hex()),
		zap.String("symbol", metadata.Symbol),
		zap.Uint8("decimals", metadata.Decimals),
		zap.Int("failed_calls", len(metadata.Errors)),
	)
}

// watch marks feed disconnected when its subscription fails mid-stream
func (m *Monitor) watch(ctx context.Context, feed string, errCh <-chan error) {
	defer m.wg.Done()
	select {
	case <-ctx.Done():
	case err := <-errCh:
		m.setStatus(feed, false, err)
	}
}

// Stop releases both feeds and waits for their goroutines
func (m *Monitor) Stop() {
	m.mu.Lock()
	cancel := m.cancel
	m.cancel = nil
	m.mu.Unlock()
	if cancel == nil {
		return
	}

	// sessions are flagged stopped before ctx ends, so a query aborted by
	// the cancellation is discarded as stale instead of failing the feed
	if m.fetcher != nil {
		m.fetcher.Stop()
	}
	if m.reconciler != nil {
		m.reconciler.Stop()
	}
	cancel()
	m.wg.Wait()

	for _, feed := range []string{FeedTransactions, FeedTransfers} {
		m.mu.RLock()
		connected := m.status[feed].Connected
		m.mu.RUnlock()
		if connected {
			m.setStatus(feed, false, nil)
		}
	}
}

func (m *Monitor) setStatus(feed string, connected bool, err error) {
	m.mu.Lock()
	st := m.status[feed]
	st.Connected = connected
	if err != nil {
		st.LastError = err.Error()
	} else if connected {
		st.LastError = ""
	}
	st.UpdatedAt = time.Now()
	m.mu.Unlock()

	if err != nil {
		m.logger.Error("Feed disconnected", zap.String("feed", feed), zap.Error(err))
	} else {
		m.logger.Info("Feed status changed", zap.String("feed", feed), zap.Bool("connected", connected))
	}

	if m.eventBus != nil {
		m.eventBus.Publish(events.NewFeedStatusEvent(feed, connected, err))
	}
}

// Status returns the state of both feeds
func (m *Monitor) Status() []FeedStatus {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return []FeedStatus{*m.status[FeedTransactions], *m.status[FeedTransfers]}
}

// Transactions returns the transactions view, newest first
func (m *Monitor) Transactions() []cwtypes.TransactionRecord {
	if m.fetcher == nil {
		return []cwtypes.TransactionRecord{}
	}
	return m.fetcher.Snapshot()
}

// Transaction looks up a transaction of the view
func (m *Monitor) Transaction(hash common.Hash) (cwtypes.TransactionRecord, bool) {
	if m.fetcher == nil {
		return cwtypes.TransactionRecord{}, false
	}
	return m.fetcher.Get(hash)
}

// Transfers returns the transfers view, newest first
func (m *Monitor) Transfers() []cwtypes.TransferEvent {
	if m.reconciler == nil {
		return []cwtypes.TransferEvent{}
	}
	return m.reconciler.Snapshot()
}

// Token returns the metadata read at start, or nil before it was read
func (m *Monitor) Token() *token.Metadata {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.metadata
}
