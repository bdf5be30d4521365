package events

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/rpc"
	"go.uber.org/zap"

	"github.com/0xmhha/chainwatch/internal/constants"
	cwtypes "github.com/0xmhha/chainwatch/types"
)

// LogClient defines the node calls used to follow and query contract logs
type LogClient interface {
	SubscribeFilterLogs(ctx context.Context, q ethereum.FilterQuery, ch chan<- types.Log) (ethereum.Subscription, error)
	FilterLogs(ctx context.Context, q ethereum.FilterQuery) ([]types.Log, error)
	GetLatestBlockNumber(ctx context.Context) (uint64, error)
}

// DefaultPollInterval is used when the endpoint cannot push notifications
const DefaultPollInterval = constants.DefaultPollInterval

// LogFeed adapts a log subscription into a channel.
//
// Endpoints without notification support are polled: each tick queries
// eth_getLogs over the blocks produced since the previous tick.
type LogFeed struct {
	client       LogClient
	pollInterval time.Duration
	logger       *zap.Logger
	errCh        chan error
}

// NewLogFeed creates a log feed
func NewLogFeed(client LogClient, pollInterval time.Duration, logger *zap.Logger) *LogFeed {
	if logger == nil {
		logger = zap.NewNop()
	}
	if pollInterval <= 0 {
		pollInterval = DefaultPollInterval
	}
	return &LogFeed{
		client:       client,
		pollInterval: pollInterval,
		logger:       logger,
		errCh:        make(chan error, 1),
	}
}

// Err delivers mid-stream failures. After an error the log channel is closed.
func (f *LogFeed) Err() <-chan error {
	return f.errCh
}

// Subscribe follows logs matching q until ctx is cancelled. The returned
// channel is closed after the node-side subscription has been released.
// Setup failures wrap types.ErrConnection.
func (f *LogFeed) Subscribe(ctx context.Context, q ethereum.FilterQuery) (<-chan types.Log, error) {
	logs := make(chan types.Log, 64)
	sub, err := f.client.SubscribeFilterLogs(ctx, q, logs)
	switch {
	case errors.Is(err, rpc.ErrNotificationsUnsupported):
		f.logger.Info("Endpoint does not support notifications, polling for logs",
			zap.Duration("interval", f.pollInterval),
		)
		return f.poll(ctx, q)
	case err != nil:
		return nil, fmt.Errorf("%w: %v", cwtypes.ErrConnection, err)
	}

	out := make(chan types.Log, 64)
	go func() {
		defer func() {
			sub.Unsubscribe()
			close(out)
		}()

		for {
			select {
			case <-ctx.Done():
				return
			case err := <-sub.Err():
				if err != nil {
					f.report(fmt.Errorf("%w: log subscription: %v", cwtypes.ErrConnection, err))
				}
				return
			case log := <-logs:
				select {
				case out <- log:
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	return out, nil
}

func (f *LogFeed) poll(ctx context.Context, q ethereum.FilterQuery) (<-chan types.Log, error) {
	last, err := f.client.GetLatestBlockNumber(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", cwtypes.ErrConnection, err)
	}

	out := make(chan types.Log, 64)
	go func() {
		defer close(out)

		ticker := time.NewTicker(f.pollInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}

			latest, err := f.client.GetLatestBlockNumber(ctx)
			if err != nil {
				f.logger.Warn("Failed to poll latest block", zap.Error(err))
				continue
			}
			if latest <= last {
				continue
			}

			window := q
			window.FromBlock = new(big.Int).SetUint64(last + 1)
			window.ToBlock = new(big.Int).SetUint64(latest)
			logs, err := f.client.FilterLogs(ctx, window)
			if err != nil {
				f.logger.Warn("Failed to poll logs",
					zap.Uint64("from", last+1),
					zap.Uint64("to", latest),
					zap.Error(err))
				continue
			}

			for _, log := range logs {
				select {
				case out <- log:
				case <-ctx.Done():
					return
				}
			}
			last = latest
		}
	}()

	return out, nil
}

func (f *LogFeed) report(err error) {
	f.logger.Error("Log feed failed", zap.Error(err))
	select {
	case f.errCh <- err:
	default:
	}
}
