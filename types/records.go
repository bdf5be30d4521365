package types

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
)

// EtherDecimals is the number of decimals of the native currency
const EtherDecimals = 18

// TxStatus is the resolution state of a transaction
type TxStatus string

const (
	// TxStatusPending means no receipt was available when the transaction was resolved
	TxStatusPending TxStatus = "pending"

	// TxStatusConfirmed means the receipt reported successful execution
	TxStatusConfirmed TxStatus = "confirmed"

	// TxStatusFailed means the receipt reported reverted execution
	TxStatusFailed TxStatus = "failed"
)

// IsTerminal reports whether the status can no longer change
func (s TxStatus) IsTerminal() bool {
	return s == TxStatusConfirmed || s == TxStatusFailed
}

// TransactionRecord is the normalized view of a transaction seen in a new block
type TransactionRecord struct {
	// Hash is the unique key of the record
	Hash common.Hash `json:"hash"`

	// From is the sender recovered from the signature
	From common.Address `json:"from"`

	// To is the recipient, nil for contract creation
	To *common.Address `json:"to"`

	// Value is the transferred amount in wei
	Value *big.Int `json:"-"`

	// ValueEther is Value scaled to ether for display
	ValueEther decimal.Decimal `json:"value"`

	// Status is the receipt-based classification
	Status TxStatus `json:"status"`

	// BlockNumber is the block whose notification produced this record
	BlockNumber uint64 `json:"blockNumber"`
}

// IsContractCreation reports whether the transaction deployed a contract
func (r *TransactionRecord) IsContractCreation() bool {
	return r.To == nil
}

// MergeTransactionRecords decides which record is kept when a hash is seen again.
// A terminal status is never replaced by a pending one.
func MergeTransactionRecords(existing, incoming TransactionRecord) TransactionRecord {
	if existing.Status.IsTerminal() && !incoming.Status.IsTerminal() {
		return existing
	}
	return incoming
}

// TransferEvent is the normalized view of a token Transfer log
type TransferEvent struct {
	From common.Address `json:"from"`
	To   common.Address `json:"to"`

	// Amount is RawAmount scaled by the token decimals
	Amount decimal.Decimal `json:"amount"`

	// RawAmount is the on-chain integer amount
	RawAmount *big.Int `json:"-"`

	// Timestamp is the containing block time in seconds since epoch
	Timestamp uint64 `json:"timestamp"`

	// TransactionHash is the unique key of the event within the stream
	TransactionHash common.Hash `json:"transactionHash"`

	BlockNumber uint64 `json:"blockNumber"`
	LogIndex    uint   `json:"logIndex"`
}

// Before reports whether e happened before other on chain.
// Timestamp orders first, block number and log index break ties.
func (e *TransferEvent) Before(other *TransferEvent) bool {
	if e.Timestamp != other.Timestamp {
		return e.Timestamp < other.Timestamp
	}
	if e.BlockNumber != other.BlockNumber {
		return e.BlockNumber < other.BlockNumber
	}
	return e.LogIndex < other.LogIndex
}

// BlockSummary is a block header plus the hashes of its transactions
type BlockSummary struct {
	Number       uint64
	Hash         common.Hash
	Timestamp    uint64
	Transactions []common.Hash
}

// ToDecimal converts an integer on-chain amount into a decimal with the given precision
func ToDecimal(amount *big.Int, decimals uint8) decimal.Decimal {
	if amount == nil {
		return decimal.Zero
	}
	return decimal.NewFromBigInt(amount, -int32(decimals))
}
