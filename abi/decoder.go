package abi

import (
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// ContractABI wraps the go-ethereum ABI with the contract it belongs to
type ContractABI struct {
	Address common.Address `json:"address"`
	Name    string         `json:"name"`
	ABI     string         `json:"abi"` // JSON string of the ABI
	parsed  *abi.ABI
}

// Parsed returns the parsed ABI
func (c *ContractABI) Parsed() *abi.ABI {
	return c.parsed
}

// DecodedLog is an event log with its arguments decoded
type DecodedLog struct {
	Address     common.Address
	BlockNumber uint64
	TxHash      common.Hash
	LogIndex    uint
	Removed     bool

	EventName string

	// Args holds the decoded values keyed by argument name.
	// uint256 values are *big.Int and addresses are common.Address.
	Args map[string]interface{}
}

// Decoder decodes logs and contract calls of registered contracts
type Decoder struct {
	mu        sync.RWMutex
	contracts map[common.Address]*ContractABI
}

// NewDecoder creates a new ABI decoder
func NewDecoder() *Decoder {
	return &Decoder{
		contracts: make(map[common.Address]*ContractABI),
	}
}

// LoadABI loads and parses an ABI for a contract
func (d *Decoder) LoadABI(address common.Address, name string, abiJSON string) error {
	parsed, err := abi.JSON(strings.NewReader(abiJSON))
	if err != nil {
		return fmt.Errorf("failed to parse ABI: %w", err)
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	d.contracts[address] = &ContractABI{
		Address: address,
		Name:    name,
		ABI:     abiJSON,
		parsed:  &parsed,
	}

	return nil
}

// LoadABIFile loads the ABI of a contract from a JSON file.
// An empty path loads the built-in ERC-20 ABI.
func (d *Decoder) LoadABIFile(address common.Address, name, path string) error {
	if path == "" {
		return d.LoadABI(address, name, ERC20ABI)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read ABI file %s: %w", path, err)
	}
	return d.LoadABI(address, name, string(data))
}

// HasABI checks if an ABI is loaded for a contract
func (d *Decoder) HasABI(address common.Address) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	_, exists := d.contracts[address]
	return exists
}

// GetABI returns the ABI for a contract
func (d *Decoder) GetABI(address common.Address) (*ContractABI, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	contractABI, exists := d.contracts[address]
	if !exists {
		return nil, fmt.Errorf("ABI not found for contract %s", address.Hex())
	}
	return contractABI, nil
}

// EventTopic returns the topic0 hash of a named event of a contract
func (d *Decoder) EventTopic(address common.Address, eventName string) (common.Hash, error) {
	contractABI, err := d.GetABI(address)
	if err != nil {
		return common.Hash{}, err
	}
	event, ok := contractABI.parsed.Events[eventName]
	if !ok {
		return common.Hash{}, fmt.Errorf("event %s not found in ABI of %s", eventName, address.Hex())
	}
	return event.ID, nil
}

// DecodeLog decodes an event log using the contract's ABI
func (d *Decoder) DecodeLog(log *types.Log) (*DecodedLog, error) {
	contractABI, err := d.GetABI(log.Address)
	if err != nil {
		return nil, err
	}

	// Logs must have at least one topic (the event signature)
	if len(log.Topics) == 0 {
		return nil, fmt.Errorf("log has no topics")
	}

	eventID := log.Topics[0]
	event, err := contractABI.parsed.EventByID(eventID)
	if err != nil {
		return nil, fmt.Errorf("event not found for topic %s: %w", eventID.Hex(), err)
	}

	args := make(map[string]interface{})

	var indexed, nonIndexed abi.Arguments
	for _, input := range event.Inputs {
		if input.Indexed {
			indexed = append(indexed, input)
		} else {
			nonIndexed = append(nonIndexed, input)
		}
	}

	if len(log.Topics)-1 != len(indexed) {
		return nil, fmt.Errorf("event %s expects %d indexed topics, got %d", event.RawName, len(indexed), len(log.Topics)-1)
	}

	// Topics[1:] contain indexed parameters
	if len(indexed) > 0 {
		if err := abi.ParseTopicsIntoMap(args, indexed, log.Topics[1:]); err != nil {
			return nil, fmt.Errorf("failed to parse indexed parameters: %w", err)
		}
	}

	if len(nonIndexed) > 0 {
		if err := nonIndexed.UnpackIntoMap(args, log.Data); err != nil {
			return nil, fmt.Errorf("failed to parse non-indexed parameters: %w", err)
		}
	}

	return &DecodedLog{
		Address:     log.Address,
		BlockNumber: log.BlockNumber,
		TxHash:      log.TxHash,
		LogIndex:    log.Index,
		Removed:     log.Removed,
		EventName:   event.RawName,
		Args:        args,
	}, nil
}

// PackCall encodes a method call of a contract
func (d *Decoder) PackCall(address common.Address, method string, args ...interface{}) ([]byte, error) {
	contractABI, err := d.GetABI(address)
	if err != nil {
		return nil, err
	}
	data, err := contractABI.parsed.Pack(method, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to pack %s: %w", method, err)
	}
	return data, nil
}

// UnpackCall decodes the return values of a method call
func (d *Decoder) UnpackCall(address common.Address, method string, data []byte) ([]interface{}, error) {
	contractABI, err := d.GetABI(address)
	if err != nil {
		return nil, err
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("empty return data for %s", method)
	}
	values, err := contractABI.parsed.Unpack(method, data)
	if err != nil {
		return nil, fmt.Errorf("failed to unpack %s: %w", method, err)
	}
	return values, nil
}

// ValidateABI validates an ABI JSON string
func ValidateABI(abiJSON string) error {
	_, err := abi.JSON(strings.NewReader(abiJSON))
	if err != nil {
		return fmt.Errorf("invalid ABI: %w", err)
	}
	return nil
}
