package events

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"go.uber.org/zap"

	"github.com/0xmhha/chainwatch/internal/constants"
	"github.com/0xmhha/chainwatch/store"
	cwtypes "github.com/0xmhha/chainwatch/types"
)

// HistoryClient defines the node calls used by the backfill
type HistoryClient interface {
	GetLatestBlockNumber(ctx context.Context) (uint64, error)
	FilterLogs(ctx context.Context, q ethereum.FilterQuery) ([]types.Log, error)
}

// LogSource delivers live logs matching a query. The channel is closed once
// the subscription has been released after ctx ends.
type LogSource interface {
	Subscribe(ctx context.Context, q ethereum.FilterQuery) (<-chan types.Log, error)
}

// TransferNormalizer turns a raw log into a TransferEvent
type TransferNormalizer interface {
	Normalize(ctx context.Context, log types.Log) (*cwtypes.TransferEvent, error)
}

// DefaultBackfillBlocks is the default size of the historical window
const DefaultBackfillBlocks = constants.DefaultBackfillBlocks

// ReconcilerConfig holds reconciler configuration
type ReconcilerConfig struct {
	// Capacity is the number of transfers kept in the view
	Capacity int

	// BackfillBlocks is the historical window queried at session start
	BackfillBlocks uint64

	// Query selects the contract and event topics. Block bounds are ignored.
	Query ethereum.FilterQuery
}

// Validate validates the reconciler configuration
func (c *ReconcilerConfig) Validate() error {
	if c.Capacity <= 0 {
		return fmt.Errorf("capacity must be positive")
	}
	if c.BackfillBlocks == 0 {
		return fmt.Errorf("backfill window must be positive")
	}
	if len(c.Query.Addresses) == 0 {
		return fmt.Errorf("query must name at least one contract address")
	}
	return nil
}

// reconcileSession owns the dedup set of one Start/Stop cycle
type reconcileSession struct {
	id     uint64
	alive  atomic.Bool
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu       sync.Mutex
	accepted map[common.Hash]struct{}
}

// seen is the cheap check performed before normalization
func (s *reconcileSession) seen(hash common.Hash) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.accepted[hash]
	return ok
}

// accept inserts hash and reports whether it was not present
func (s *reconcileSession) accept(hash common.Hash) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.accepted[hash]; ok {
		return false
	}
	s.accepted[hash] = struct{}{}
	return true
}

func (s *reconcileSession) size() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.accepted)
}

// Reconciler merges a historical backfill and a live subscription of
// Transfer events into one deduplicated, newest-first view.
//
// Each Start opens a session that owns a fresh dedup set. The live
// subscription is registered before the history is queried so no event
// falls between the two; events seen by both paths are accepted once.
type Reconciler struct {
	history    HistoryClient
	live       LogSource
	normalizer TransferNormalizer
	config     *ReconcilerConfig
	logger     *zap.Logger
	eventBus   *EventBus
	metrics    *IngestMetrics

	store *store.Recency[common.Hash, cwtypes.TransferEvent]

	// mu orders store writes against session changes
	mu       sync.RWMutex
	session  *reconcileSession
	sessions uint64

	// applyMu serializes live upserts with the backfill merge
	applyMu sync.Mutex
}

// NewReconciler creates a reconciler.
// eventBus is optional - if nil, no snapshots will be published
func NewReconciler(history HistoryClient, live LogSource, normalizer TransferNormalizer, config *ReconcilerConfig, logger *zap.Logger, eventBus *EventBus) *Reconciler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Reconciler{
		history:    history,
		live:       live,
		normalizer: normalizer,
		config:     config,
		logger:     logger,
		eventBus:   eventBus,
		store:      store.NewRecency[common.Hash, cwtypes.TransferEvent](config.Capacity),
	}
}

// SetMetrics enables Prometheus metrics for the reconciler
func (r *Reconciler) SetMetrics(metrics *IngestMetrics) {
	r.metrics = metrics
}

// Start opens a new session: the view is emptied, the live subscription is
// registered and the backfill runs to completion. Setup failures tear the
// session down and wrap types.ErrConnection. A session stopped while Start is
// still running returns nil; whatever it produced is discarded.
//
// The history query runs under ctx, not under the session, so Stop lets an
// in-flight query finish.
func (r *Reconciler) Start(ctx context.Context) error {
	r.Stop()

	sessionCtx, cancel := context.WithCancel(ctx)

	r.mu.Lock()
	r.sessions++
	s := &reconcileSession{
		id:       r.sessions,
		cancel:   cancel,
		accepted: make(map[common.Hash]struct{}),
	}
	s.alive.Store(true)
	r.session = s
	r.store.Reset()
	r.mu.Unlock()

	if r.metrics != nil {
		r.metrics.SessionsTotal.Inc()
	}
	r.logger.Info("Transfers session started", zap.Uint64("session", s.id))

	logs, err := r.live.Subscribe(sessionCtx, r.config.Query)
	if err != nil {
		if r.discardStale(s, "live subscription", err) {
			return nil
		}
		r.Stop()
		return fmt.Errorf("%w: live subscription: %v", cwtypes.ErrConnection, err)
	}

	s.wg.Add(1)
	go r.consume(sessionCtx, s, logs)

	if err := r.backfill(ctx, s); err != nil {
		if r.discardStale(s, "backfill", err) {
			return nil
		}
		r.Stop()
		return err
	}

	return nil
}

// discardStale reports whether s was stopped or replaced. A setup failure of
// such a session is a consequence of the teardown and is only counted.
func (r *Reconciler) discardStale(s *reconcileSession, step string, err error) bool {
	r.mu.RLock()
	current := s.alive.Load() && r.session == s
	r.mu.RUnlock()
	if current {
		return false
	}
	r.recordStale()
	r.logger.Debug("Discarded setup failure of stopped session",
		zap.Uint64("session", s.id),
		zap.String("step", step),
		zap.Error(err),
	)
	return true
}

// Stop releases the live subscription and waits until it is released and
// in-flight live work has finished. Results that complete afterwards are
// discarded.
func (r *Reconciler) Stop() {
	r.mu.Lock()
	s := r.session
	if s == nil || !s.alive.Load() {
		r.mu.Unlock()
		return
	}
	s.alive.Store(false)
	s.cancel()
	r.mu.Unlock()

	s.wg.Wait()
	r.logger.Info("Transfers session stopped", zap.Uint64("session", s.id))
}

// Running reports whether a session is active
func (r *Reconciler) Running() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.session != nil && r.session.alive.Load()
}

// Snapshot returns the transfers view, newest first
func (r *Reconciler) Snapshot() []cwtypes.TransferEvent {
	return r.store.Snapshot()
}

// AcceptedCount returns the number of transaction hashes accepted by the current session
func (r *Reconciler) AcceptedCount() int {
	r.mu.RLock()
	s := r.session
	r.mu.RUnlock()
	if s == nil {
		return 0
	}
	return s.size()
}

// consume reads live deliveries until the subscription closes.
// Every delivery is normalized in its own goroutine.
func (r *Reconciler) consume(ctx context.Context, s *reconcileSession, logs <-chan types.Log) {
	defer s.wg.Done()

	for {
		select {
		case <-ctx.Done():
			// the source closes logs after releasing the subscription
			for range logs {
			}
			return
		case log, ok := <-logs:
			if !ok {
				return
			}
			if !r.track(s) {
				continue
			}
			go func(log types.Log) {
				defer s.wg.Done()
				r.handleLive(ctx, s, log)
			}(log)
		}
	}
}

// track registers live work with s unless it was torn down
func (r *Reconciler) track(s *reconcileSession) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if !s.alive.Load() {
		return false
	}
	s.wg.Add(1)
	return true
}

func (r *Reconciler) handleLive(ctx context.Context, s *reconcileSession, log types.Log) {
	if s.seen(log.TxHash) {
		r.recordDuplicate(PathLive)
		return
	}

	event, err := r.normalizer.Normalize(ctx, log)
	if err != nil {
		r.recordFailure(PathLive, err)
		r.logger.Warn("Dropped live transfer",
			zap.String("tx_hash", log.TxHash.Hex()),
			zap.Uint64("block", log.BlockNumber),
			zap.Error(err),
		)
		return
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	if !s.alive.Load() || r.session != s {
		r.recordStale()
		return
	}
	if !s.accept(event.TransactionHash) {
		r.recordDuplicate(PathLive)
		return
	}

	r.applyMu.Lock()
	defer r.applyMu.Unlock()
	r.store.Upsert(event.TransactionHash, *event)

	r.recordAccepted(PathLive, 1)
	r.publish(false, r.store.Snapshot())
}

// backfill queries the historical window, accepts what the live path has not
// already accepted and publishes the merged newest entries
func (r *Reconciler) backfill(ctx context.Context, s *reconcileSession) error {
	start := time.Now()

	latest, err := r.history.GetLatestBlockNumber(ctx)
	if err != nil {
		return fmt.Errorf("%w: latest block: %v", cwtypes.ErrConnection, err)
	}

	var from uint64
	if latest > r.config.BackfillBlocks {
		from = latest - r.config.BackfillBlocks
	}

	q := r.config.Query
	q.FromBlock = new(big.Int).SetUint64(from)
	q.ToBlock = new(big.Int).SetUint64(latest)

	logs, err := r.history.FilterLogs(ctx, q)
	if err != nil {
		return fmt.Errorf("%w: history query [%d, %d]: %v", cwtypes.ErrConnection, from, latest, err)
	}

	r.logger.Info("Backfill query completed",
		zap.Uint64("from", from),
		zap.Uint64("to", latest),
		zap.Int("logs", len(logs)),
	)

	normalized := r.normalizeAll(ctx, s, logs)

	// oldest first, so the earliest event of a transaction wins
	sort.SliceStable(normalized, func(i, j int) bool {
		return normalized[i].Before(normalized[j])
	})

	r.mu.RLock()
	defer r.mu.RUnlock()

	if !s.alive.Load() || r.session != s {
		r.recordStale()
		r.logger.Debug("Discarded backfill of stopped session", zap.Uint64("session", s.id))
		return nil
	}

	accepted := make([]*cwtypes.TransferEvent, 0, len(normalized))
	for _, event := range normalized {
		if s.accept(event.TransactionHash) {
			accepted = append(accepted, event)
		} else {
			r.recordDuplicate(PathBackfill)
		}
	}
	if len(accepted) > r.config.Capacity {
		accepted = accepted[len(accepted)-r.config.Capacity:]
	}

	r.applyMu.Lock()
	merged := make([]cwtypes.TransferEvent, 0, len(accepted)+r.store.Len())
	merged = append(merged, r.store.Snapshot()...)
	for _, event := range accepted {
		merged = append(merged, *event)
	}
	sort.SliceStable(merged, func(i, j int) bool {
		return merged[j].Before(&merged[i])
	})
	if len(merged) > r.config.Capacity {
		merged = merged[:r.config.Capacity]
	}

	keys := make([]common.Hash, len(merged))
	for i := range merged {
		keys[i] = merged[i].TransactionHash
	}
	r.store.Replace(keys, merged)
	snapshot := r.store.Snapshot()
	r.publish(true, snapshot)
	r.applyMu.Unlock()

	r.recordAccepted(PathBackfill, len(accepted))
	if r.metrics != nil {
		r.metrics.BackfillDuration.Observe(time.Since(start).Seconds())
	}
	r.logger.Info("Backfill published",
		zap.Int("accepted", len(accepted)),
		zap.Int("presented", len(snapshot)),
		zap.Duration("duration", time.Since(start)),
	)

	return nil
}

// normalizeAll normalizes historical logs concurrently, skipping hashes the
// live path already accepted. Failures are logged and dropped.
func (r *Reconciler) normalizeAll(ctx context.Context, s *reconcileSession, logs []types.Log) []*cwtypes.TransferEvent {
	results := make([]*cwtypes.TransferEvent, len(logs))

	var wg sync.WaitGroup
	for i := range logs {
		if s.seen(logs[i].TxHash) {
			r.recordDuplicate(PathBackfill)
			continue
		}
		wg.Add(1)
		go func(i int, log types.Log) {
			defer wg.Done()
			if !s.alive.Load() {
				return
			}
			event, err := r.normalizer.Normalize(ctx, log)
			if err != nil {
				r.recordFailure(PathBackfill, err)
				r.logger.Warn("Dropped historical transfer",
					zap.String("tx_hash", log.TxHash.Hex()),
					zap.Uint64("block", log.BlockNumber),
					zap.Error(err),
				)
				return
			}
			results[i] = event
		}(i, logs[i])
	}
	wg.Wait()

	out := make([]*cwtypes.TransferEvent, 0, len(results))
	for _, event := range results {
		if event != nil {
			out = append(out, event)
		}
	}
	return out
}

func (r *Reconciler) publish(backfill bool, snapshot []cwtypes.TransferEvent) {
	if r.eventBus == nil {
		return
	}
	if !r.eventBus.Publish(NewTransfersEvent(backfill, snapshot)) {
		r.logger.Warn("Failed to publish transfers snapshot", zap.Bool("backfill", backfill))
	}
}

func (r *Reconciler) recordAccepted(path string, n int) {
	if r.metrics != nil && n > 0 {
		r.metrics.AcceptedTotal.WithLabelValues(path).Add(float64(n))
	}
}

func (r *Reconciler) recordDuplicate(path string) {
	if r.metrics != nil {
		r.metrics.DuplicatesTotal.WithLabelValues(path).Inc()
	}
}

func (r *Reconciler) recordFailure(path string, err error) {
	if r.metrics != nil {
		r.metrics.FailuresTotal.WithLabelValues(path, failureReason(err)).Inc()
	}
}

func (r *Reconciler) recordStale() {
	if r.metrics != nil {
		r.metrics.StaleTotal.Inc()
	}
}

func failureReason(err error) string {
	switch {
	case errors.Is(err, cwtypes.ErrNormalization):
		return "normalization"
	case errors.Is(err, cwtypes.ErrResolution):
		return "resolution"
	default:
		return "other"
	}
}
