package fetch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"go.uber.org/zap"

	cwtypes "github.com/0xmhha/chainwatch/types"
)

// TxClient defines the node calls needed to resolve a single transaction
type TxClient interface {
	GetTransactionByHash(ctx context.Context, hash common.Hash) (*types.Transaction, bool, error)
	GetTransactionReceipt(ctx context.Context, hash common.Hash) (*types.Receipt, error)
}

// Resolver turns a transaction hash into a TransactionRecord
type Resolver struct {
	client  TxClient
	timeout time.Duration
	logger  *zap.Logger
}

// NewResolver creates a resolver. A zero timeout leaves the caller's context untouched.
func NewResolver(client TxClient, timeout time.Duration, logger *zap.Logger) *Resolver {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Resolver{
		client:  client,
		timeout: timeout,
		logger:  logger,
	}
}

// Resolve fetches the transaction and its receipt concurrently and classifies it.
//
// A transaction unknown to the node returns types.ErrTxNotFound. A missing
// receipt yields a pending record. Any other failure wraps types.ErrResolution.
func (r *Resolver) Resolve(ctx context.Context, hash common.Hash) (*cwtypes.TransactionRecord, error) {
	if r.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}

	var (
		wg         sync.WaitGroup
		tx         *types.Transaction
		receipt    *types.Receipt
		txErr      error
		receiptErr error
	)

	wg.Add(2)
	go func() {
		defer wg.Done()
		tx, _, txErr = r.client.GetTransactionByHash(ctx, hash)
	}()
	go func() {
		defer wg.Done()
		receipt, receiptErr = r.client.GetTransactionReceipt(ctx, hash)
	}()
	wg.Wait()

	if errors.Is(txErr, ethereum.NotFound) || (txErr == nil && tx == nil) {
		return nil, fmt.Errorf("%w: %s", cwtypes.ErrTxNotFound, hash.Hex())
	}
	if txErr != nil {
		return nil, fmt.Errorf("%w: transaction %s: %v", cwtypes.ErrResolution, hash.Hex(), txErr)
	}
	if receiptErr != nil && !errors.Is(receiptErr, ethereum.NotFound) {
		return nil, fmt.Errorf("%w: receipt %s: %v", cwtypes.ErrResolution, hash.Hex(), receiptErr)
	}

	return NewTransactionRecord(tx, receipt, r.logger), nil
}

// NewTransactionRecord maps a transaction and its optional receipt into a record
func NewTransactionRecord(tx *types.Transaction, receipt *types.Receipt, logger *zap.Logger) *cwtypes.TransactionRecord {
	record := &cwtypes.TransactionRecord{
		Hash:       tx.Hash(),
		From:       transactionSender(tx, logger),
		To:         tx.To(),
		Value:      tx.Value(),
		ValueEther: cwtypes.ToDecimal(tx.Value(), cwtypes.EtherDecimals),
		Status:     StatusFromReceipt(receipt),
	}
	if receipt != nil && receipt.BlockNumber != nil {
		record.BlockNumber = receipt.BlockNumber.Uint64()
	}
	return record
}

// StatusFromReceipt classifies a transaction by its receipt
func StatusFromReceipt(receipt *types.Receipt) cwtypes.TxStatus {
	switch {
	case receipt == nil:
		return cwtypes.TxStatusPending
	case receipt.Status == types.ReceiptStatusSuccessful:
		return cwtypes.TxStatusConfirmed
	default:
		return cwtypes.TxStatusFailed
	}
}

// transactionSender recovers the sender from the signature.
// Unsigned or unrecoverable transactions map to the zero address.
func transactionSender(tx *types.Transaction, logger *zap.Logger) common.Address {
	signer := types.LatestSignerForChainID(tx.ChainId())
	from, err := types.Sender(signer, tx)
	if err != nil {
		logger.Debug("failed to recover transaction sender",
			zap.String("tx_hash", tx.Hash().Hex()),
			zap.Error(err),
		)
		return common.Address{}
	}
	return from
}
