package graphql

import (
	"github.com/ethereum/go-ethereum/common"

	"github.com/0xmhha/chainwatch/monitor"
	"github.com/0xmhha/chainwatch/token"
	cwtypes "github.com/0xmhha/chainwatch/types"
)

// Source is the read-only view the schema resolves against
type Source interface {
	Transactions() []cwtypes.TransactionRecord
	Transaction(hash common.Hash) (cwtypes.TransactionRecord, bool)
	Transfers() []cwtypes.TransferEvent
	Status() []monitor.FeedStatus
	Token() *token.Metadata
}
