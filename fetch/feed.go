package fetch

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/rpc"
	"go.uber.org/zap"

	"github.com/0xmhha/chainwatch/internal/constants"
	cwtypes "github.com/0xmhha/chainwatch/types"
)

// HeadClient defines the node calls used to follow new blocks
type HeadClient interface {
	SubscribeNewHead(ctx context.Context, ch chan<- *types.Header) (ethereum.Subscription, error)
	GetLatestBlockNumber(ctx context.Context) (uint64, error)
}

// DefaultPollInterval is used when the endpoint cannot push notifications
const DefaultPollInterval = constants.DefaultPollInterval

// BlockFeed adapts new block announcements into a channel of block numbers.
//
// Endpoints that support notifications are followed with eth_subscribe(newHeads).
// Others are polled with eth_blockNumber and every block between the last seen
// and the latest is emitted.
type BlockFeed struct {
	client       HeadClient
	pollInterval time.Duration
	logger       *zap.Logger
	errCh        chan error
}

// NewBlockFeed creates a block feed
func NewBlockFeed(client HeadClient, pollInterval time.Duration, logger *zap.Logger) *BlockFeed {
	if logger == nil {
		logger = zap.NewNop()
	}
	if pollInterval <= 0 {
		pollInterval = DefaultPollInterval
	}
	return &BlockFeed{
		client:       client,
		pollInterval: pollInterval,
		logger:       logger,
		errCh:        make(chan error, 1),
	}
}

// Err delivers mid-stream failures. After an error the block channel is closed.
func (f *BlockFeed) Err() <-chan error {
	return f.errCh
}

// Subscribe starts following new blocks until ctx is cancelled.
// Setup failures wrap types.ErrConnection.
func (f *BlockFeed) Subscribe(ctx context.Context) (<-chan uint64, error) {
	heads := make(chan *types.Header, 16)
	sub, err := f.client.SubscribeNewHead(ctx, heads)
	switch {
	case errors.Is(err, rpc.ErrNotificationsUnsupported):
		f.logger.Info("Endpoint does not support notifications, polling for blocks",
			zap.Duration("interval", f.pollInterval),
		)
		return f.poll(ctx)
	case err != nil:
		return nil, fmt.Errorf("%w: %v", cwtypes.ErrConnection, err)
	}

	out := make(chan uint64, 16)
	go func() {
		defer close(out)
		defer sub.Unsubscribe()

		for {
			select {
			case <-ctx.Done():
				return
			case err := <-sub.Err():
				if err != nil {
					f.report(fmt.Errorf("%w: head subscription: %v", cwtypes.ErrConnection, err))
				}
				return
			case head := <-heads:
				if head == nil || head.Number == nil {
					continue
				}
				select {
				case out <- head.Number.Uint64():
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	return out, nil
}

func (f *BlockFeed) poll(ctx context.Context) (<-chan uint64, error) {
	last, err := f.client.GetLatestBlockNumber(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", cwtypes.ErrConnection, err)
	}

	out := make(chan uint64, 16)
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

			for n := last + 1; n <= latest; n++ {
				select {
				case out <- n:
				case <-ctx.Done():
					return
				}
			}
			if latest > last {
				last = latest
			}
		}
	}()

	return out, nil
}

func (f *BlockFeed) report(err error) {
	f.logger.Error("Block feed failed", zap.Error(err))
	select {
	case f.errCh <- err:
	default:
	}
}
