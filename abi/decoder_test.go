package abi

import (
	"math/big"
	"os"
	"path/filepath"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	tokenAddr = common.HexToAddress("0x5FbDB2315678afecb367f032d93F642f64180aa3")
	fromAddr  = common.HexToAddress("0x1111111111111111111111111111111111111111")
	toAddr    = common.HexToAddress("0x2222222222222222222222222222222222222222")
)

func transferLog(value *big.Int) *types.Log {
	return &types.Log{
		Address: tokenAddr,
		Topics: []common.Hash{
			TransferTopic,
			common.BytesToHash(fromAddr.Bytes()),
			common.BytesToHash(toAddr.Bytes()),
		},
		Data:        common.LeftPadBytes(value.Bytes(), 32),
		BlockNumber: 12,
		TxHash:      common.HexToHash("0xaa"),
		Index:       3,
	}
}

func newERC20Decoder(t *testing.T) *Decoder {
	t.Helper()
	d := NewDecoder()
	require.NoError(t, d.LoadABI(tokenAddr, "token", ERC20ABI))
	return d
}

func TestDecoder_DecodeTransfer(t *testing.T) {
	d := newERC20Decoder(t)

	value := new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil)
	decoded, err := d.DecodeLog(transferLog(value))
	require.NoError(t, err)

	assert.Equal(t, "Transfer", decoded.EventName)
	assert.Equal(t, fromAddr, decoded.Args["from"])
	assert.Equal(t, toAddr, decoded.Args["to"])
	assert.Equal(t, 0, value.Cmp(decoded.Args["value"].(*big.Int)))
	assert.Equal(t, uint64(12), decoded.BlockNumber)
	assert.Equal(t, uint(3), decoded.LogIndex)
}

func TestDecoder_DecodeLogErrors(t *testing.T) {
	d := newERC20Decoder(t)

	tests := []struct {
		name string
		log  *types.Log
	}{
		{
			name: "unknown contract",
			log:  &types.Log{Address: common.HexToAddress("0x99"), Topics: []common.Hash{TransferTopic}},
		},
		{
			name: "no topics",
			log:  &types.Log{Address: tokenAddr},
		},
		{
			name: "unknown event",
			log:  &types.Log{Address: tokenAddr, Topics: []common.Hash{common.HexToHash("0x1234")}},
		},
		{
			name: "missing indexed topic",
			log: &types.Log{
				Address: tokenAddr,
				Topics:  []common.Hash{TransferTopic, common.BytesToHash(fromAddr.Bytes())},
				Data:    common.LeftPadBytes(big.NewInt(1).Bytes(), 32),
			},
		},
		{
			name: "truncated data",
			log: &types.Log{
				Address: tokenAddr,
				Topics: []common.Hash{
					TransferTopic,
					common.BytesToHash(fromAddr.Bytes()),
					common.BytesToHash(toAddr.Bytes()),
				},
				Data: []byte{0x01},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := d.DecodeLog(tt.log)
			assert.Error(t, err)
		})
	}
}

func TestDecoder_EventTopic(t *testing.T) {
	d := newERC20Decoder(t)

	topic, err := d.EventTopic(tokenAddr, "Transfer")
	require.NoError(t, err)
	assert.Equal(t, TransferTopic, topic)

	topic, err = d.EventTopic(tokenAddr, "Approval")
	require.NoError(t, err)
	assert.Equal(t, ApprovalTopic, topic)

	_, err = d.EventTopic(tokenAddr, "Mint")
	assert.Error(t, err)
}

func TestDecoder_PackUnpackDecimals(t *testing.T) {
	d := newERC20Decoder(t)

	data, err := d.PackCall(tokenAddr, "decimals")
	require.NoError(t, err)
	assert.Equal(t, "313ce567", common.Bytes2Hex(data))

	values, err := d.UnpackCall(tokenAddr, "decimals", common.LeftPadBytes([]byte{6}, 32))
	require.NoError(t, err)
	require.Len(t, values, 1)
	assert.Equal(t, uint8(6), values[0])

	_, err = d.UnpackCall(tokenAddr, "decimals", nil)
	assert.Error(t, err)
}

func TestDecoder_LoadABIFile(t *testing.T) {
	d := NewDecoder()
	require.NoError(t, d.LoadABIFile(tokenAddr, "token", ""))
	assert.True(t, d.HasABI(tokenAddr))

	path := filepath.Join(t.TempDir(), "token.json")
	require.NoError(t, os.WriteFile(path, []byte(ERC20ABI), 0o600))
	other := common.HexToAddress("0x42")
	require.NoError(t, d.LoadABIFile(other, "other", path))
	assert.True(t, d.HasABI(other))

	assert.Error(t, d.LoadABIFile(other, "other", filepath.Join(t.TempDir(), "missing.json")))
	assert.Error(t, d.LoadABI(other, "bad", "{not json"))
}

func TestIsERC20Transfer(t *testing.T) {
	erc20Log := transferLog(big.NewInt(1))
	assert.True(t, IsERC20Transfer(erc20Log))

	erc721Log := &types.Log{
		Topics: []common.Hash{
			TransferTopic,
			common.BytesToHash(fromAddr.Bytes()),
			common.BytesToHash(toAddr.Bytes()),
			common.BigToHash(big.NewInt(1)),
		},
	}
	assert.False(t, IsERC20Transfer(erc721Log))
	assert.False(t, IsERC20Transfer(&types.Log{}))
}

func TestValidateABI(t *testing.T) {
	assert.NoError(t, ValidateABI(ERC20ABI))
	assert.Error(t, ValidateABI("[{"))
}
