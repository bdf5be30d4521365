package token

import (
	"context"
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/0xmhha/chainwatch/abi"
	cwtypes "github.com/0xmhha/chainwatch/types"
)

// DefaultDecimals is used when a token does not answer decimals()
const DefaultDecimals uint8 = 18

// Caller executes read-only contract calls
type Caller interface {
	CallContract(ctx context.Context, msg ethereum.CallMsg) ([]byte, error)
}

// Metadata describes an ERC-20 token
type Metadata struct {
	Address     common.Address  `json:"address"`
	Name        string          `json:"name"`
	Symbol      string          `json:"symbol"`
	Decimals    uint8           `json:"decimals"`
	TotalSupply decimal.Decimal `json:"totalSupply"`

	// Errors holds the calls that failed, keyed by method name
	Errors map[string]string `json:"errors,omitempty"`
}

// Reader reads metadata of one token contract through its ABI
type Reader struct {
	caller  Caller
	decoder *abi.Decoder
	address common.Address
	logger  *zap.Logger

	decimalsOnce sync.Once
	decimals     uint8
}

// NewReader creates a reader. The decoder must have the token ABI loaded.
func NewReader(caller Caller, decoder *abi.Decoder, address common.Address, logger *zap.Logger) *Reader {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Reader{
		caller:  caller,
		decoder: decoder,
		address: address,
		logger:  logger,
	}
}

// Address returns the token contract address
func (r *Reader) Address() common.Address {
	return r.address
}

// Decimals returns the token decimals. The contract is asked once;
// when the call fails DefaultDecimals is used from then on.
func (r *Reader) Decimals(ctx context.Context) uint8 {
	r.decimalsOnce.Do(func() {
		decimals, err := r.readDecimals(ctx)
		if err != nil {
			r.logger.Warn("Failed to read token decimals, defaulting to 18",
				zap.String("address", r.address.Hex()),
				zap.Error(err))
			decimals = DefaultDecimals
		}
		r.decimals = decimals
	})
	return r.decimals
}

// Metadata reads name, symbol, decimals and total supply.
// Individual call failures are recorded in Errors and do not fail the read.
func (r *Reader) Metadata(ctx context.Context) *Metadata {
	result := &Metadata{
		Address: r.address,
		Errors:  make(map[string]string),
	}

	if name, err := r.callString(ctx, "name"); err != nil {
		result.Errors["name"] = err.Error()
	} else {
		result.Name = name
	}

	if symbol, err := r.callString(ctx, "symbol"); err != nil {
		result.Errors["symbol"] = err.Error()
	} else {
		result.Symbol = symbol
	}

	result.Decimals = r.Decimals(ctx)

	if supply, err := r.callBigInt(ctx, "totalSupply"); err != nil {
		result.Errors["totalSupply"] = err.Error()
	} else {
		result.TotalSupply = cwtypes.ToDecimal(supply, result.Decimals)
	}

	for method, msg := range result.Errors {
		r.logger.Debug("Failed to read token metadata",
			zap.String("address", r.address.Hex()),
			zap.String("method", method),
			zap.String("error", msg))
	}

	return result
}

func (r *Reader) readDecimals(ctx context.Context) (uint8, error) {
	values, err := r.call(ctx, "decimals")
	if err != nil {
		return 0, err
	}
	decimals, ok := values[0].(uint8)
	if !ok {
		return 0, fmt.Errorf("unexpected decimals type %T", values[0])
	}
	return decimals, nil
}

func (r *Reader) callString(ctx context.Context, method string) (string, error) {
	values, err := r.call(ctx, method)
	if err != nil {
		return "", err
	}
	s, ok := values[0].(string)
	if !ok {
		return "", fmt.Errorf("unexpected %s type %T", method, values[0])
	}
	return s, nil
}

func (r *Reader) callBigInt(ctx context.Context, method string) (*big.Int, error) {
	values, err := r.call(ctx, method)
	if err != nil {
		return nil, err
	}
	n, ok := values[0].(*big.Int)
	if !ok {
		return nil, fmt.Errorf("unexpected %s type %T", method, values[0])
	}
	return n, nil
}

func (r *Reader) call(ctx context.Context, method string) ([]interface{}, error) {
	data, err := r.decoder.PackCall(r.address, method)
	if err != nil {
		return nil, err
	}

	to := r.address
	out, err := r.caller.CallContract(ctx, ethereum.CallMsg{To: &to, Data: data})
	if err != nil {
		return nil, fmt.Errorf("contract call failed: %w", err)
	}

	values, err := r.decoder.UnpackCall(r.address, method, out)
	if err != nil {
		return nil, err
	}
	if len(values) == 0 {
		return nil, fmt.Errorf("%s returned no values", method)
	}
	return values, nil
}
