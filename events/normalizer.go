package events

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"go.uber.org/zap"

	"github.com/0xmhha/chainwatch/abi"
	cwtypes "github.com/0xmhha/chainwatch/types"
)

// BlockClient fetches block summaries
type BlockClient interface {
	GetBlockSummary(ctx context.Context, number uint64) (*cwtypes.BlockSummary, error)
}

// DecimalsSource provides the decimals of the watched token
type DecimalsSource interface {
	Decimals(ctx context.Context) uint8
}

// NormalizerConfig names the event and the argument carrying the amount
type NormalizerConfig struct {
	EventName string
	AmountArg string
}

// Normalizer turns raw Transfer logs into TransferEvents
type Normalizer struct {
	decoder  *abi.Decoder
	blocks   BlockClient
	decimals DecimalsSource
	config   NormalizerConfig
	logger   *zap.Logger
}

// NewNormalizer creates a normalizer. The decoder must know the ABI of the
// contract emitting the logs.
func NewNormalizer(decoder *abi.Decoder, blocks BlockClient, decimals DecimalsSource, config NormalizerConfig, logger *zap.Logger) *Normalizer {
	if logger == nil {
		logger = zap.NewNop()
	}
	if config.EventName == "" {
		config.EventName = "Transfer"
	}
	if config.AmountArg == "" {
		config.AmountArg = "value"
	}
	return &Normalizer{
		decoder:  decoder,
		blocks:   blocks,
		decimals: decimals,
		config:   config,
		logger:   logger,
	}
}

// Normalize decodes a log and attaches the timestamp of its block.
// Decoding failures wrap types.ErrNormalization, block lookups types.ErrResolution.
func (n *Normalizer) Normalize(ctx context.Context, log types.Log) (*cwtypes.TransferEvent, error) {
	if log.Removed {
		return nil, fmt.Errorf("%w: log %s/%d was removed", cwtypes.ErrNormalization, log.TxHash.Hex(), log.Index)
	}

	decoded, err := n.decoder.DecodeLog(&log)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", cwtypes.ErrNormalization, err)
	}
	if decoded.EventName != n.config.EventName {
		return nil, fmt.Errorf("%w: unexpected event %s", cwtypes.ErrNormalization, decoded.EventName)
	}

	from, err := addressArg(decoded.Args, "from", "_from", "src")
	if err != nil {
		return nil, err
	}
	to, err := addressArg(decoded.Args, "to", "_to", "dst")
	if err != nil {
		return nil, err
	}
	amount, err := amountArg(decoded.Args, n.config.AmountArg, "value", "amount", "_value", "wad")
	if err != nil {
		return nil, err
	}

	block, err := n.blocks.GetBlockSummary(ctx, log.BlockNumber)
	if err != nil {
		return nil, fmt.Errorf("%w: block %d for log %s: %v", cwtypes.ErrResolution, log.BlockNumber, log.TxHash.Hex(), err)
	}

	decimals := n.decimals.Decimals(ctx)

	return &cwtypes.TransferEvent{
		From:            from,
		To:              to,
		Amount:          cwtypes.ToDecimal(amount, decimals),
		RawAmount:       amount,
		Timestamp:       block.Timestamp,
		TransactionHash: log.TxHash,
		BlockNumber:     log.BlockNumber,
		LogIndex:        log.Index,
	}, nil
}

func addressArg(args map[string]interface{}, names ...string) (common.Address, error) {
	for _, name := range names {
		if v, ok := args[name]; ok {
			addr, ok := v.(common.Address)
			if !ok {
				return common.Address{}, fmt.Errorf("%w: argument %s is %T, not an address", cwtypes.ErrNormalization, name, v)
			}
			return addr, nil
		}
	}
	return common.Address{}, fmt.Errorf("%w: missing argument %s", cwtypes.ErrNormalization, names[0])
}

func amountArg(args map[string]interface{}, names ...string) (*big.Int, error) {
	for _, name := range names {
		if v, ok := args[name]; ok {
			amount, ok := v.(*big.Int)
			if !ok {
				return nil, fmt.Errorf("%w: argument %s is %T, not an integer", cwtypes.ErrNormalization, name, v)
			}
			return amount, nil
		}
	}
	return nil, fmt.Errorf("%w: missing argument %s", cwtypes.ErrNormalization, names[0])
}
