package testutil

import (
	"crypto/ecdsa"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"go.uber.org/zap"

	"github.com/0xmhha/chainwatch/abi"
)

// TestChainID is the chain id used for signed test transactions (hardhat/anvil default)
var TestChainID = big.NewInt(31337)

// NewTestLogger creates a development logger for tests
func NewTestLogger(t *testing.T) *zap.Logger {
	t.Helper()
	logger, err := zap.NewDevelopment()
	if err != nil {
		t.Fatalf("Failed to create test logger: %v", err)
	}
	return logger
}

// NewTestKey generates a private key and returns it with its address
func NewTestKey(t *testing.T) (*ecdsa.PrivateKey, common.Address) {
	t.Helper()
	key, err := crypto.GenerateKey()
	if err != nil {
		t.Fatalf("Failed to generate key: %v", err)
	}
	return key, crypto.PubkeyToAddress(key.PublicKey)
}

// NewSignedTx creates a signed dynamic-fee transaction. A nil to creates a contract.
func NewSignedTx(t *testing.T, key *ecdsa.PrivateKey, nonce uint64, to *common.Address, value *big.Int) *types.Transaction {
	t.Helper()
	tx := types.NewTx(&types.DynamicFeeTx{
		ChainID:   TestChainID,
		Nonce:     nonce,
		GasTipCap: big.NewInt(1),
		GasFeeCap: big.NewInt(1_000_000_000),
		Gas:       21000,
		To:        to,
		Value:     value,
	})
	signed, err := types.SignTx(tx, types.LatestSignerForChainID(TestChainID), key)
	if err != nil {
		t.Fatalf("Failed to sign transaction: %v", err)
	}
	return signed
}

// NewTestReceipt creates a receipt for the given transaction hash
func NewTestReceipt(txHash common.Hash, blockNumber uint64, status uint64) *types.Receipt {
	return &types.Receipt{
		Type:              types.DynamicFeeTxType,
		Status:            status,
		CumulativeGasUsed: 21000,
		BlockNumber:       new(big.Int).SetUint64(blockNumber),
		TxHash:            txHash,
		GasUsed:           21000,
		Logs:              []*types.Log{},
	}
}

// NewTransferLog creates an ERC-20 Transfer log emitted by contract
func NewTransferLog(contract, from, to common.Address, amount *big.Int, blockNumber uint64, txHash common.Hash, index uint) types.Log {
	return types.Log{
		Address: contract,
		Topics: []common.Hash{
			abi.TransferTopic,
			common.BytesToHash(from.Bytes()),
			common.BytesToHash(to.Bytes()),
		},
		Data:        common.LeftPadBytes(amount.Bytes(), 32),
		BlockNumber: blockNumber,
		TxHash:      txHash,
		Index:       index,
	}
}

// HashN returns a deterministic hash for small test indices
func HashN(n uint64) common.Hash {
	return common.BigToHash(new(big.Int).SetUint64(n))
}

// AssertNoError is a helper to assert that there is no error
func AssertNoError(t *testing.T, err error, msgAndArgs ...interface{}) {
	t.Helper()
	if err != nil {
		if len(msgAndArgs) > 0 {
			t.Fatalf("%s: %v", msgAndArgs[0], err)
		} else {
			t.Fatalf("Unexpected error: %v", err)
		}
	}
}

// AssertError is a helper to assert that there is an error
func AssertError(t *testing.T, err error, msgAndArgs ...interface{}) {
	t.Helper()
	if err == nil {
		if len(msgAndArgs) > 0 {
			t.Fatalf("%s: expected error but got nil", msgAndArgs[0])
		} else {
			t.Fatal("Expected error but got nil")
		}
	}
}
