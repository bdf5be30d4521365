package graphql

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/graphql-go/graphql"
)

func limitOf(p graphql.ResolveParams) (int, error) {
	limit, ok := p.Args["limit"].(int)
	if !ok {
		return -1, nil
	}
	if limit < 0 {
		return 0, fmt.Errorf("limit cannot be negative")
	}
	return limit, nil
}

// resolveTransactions resolves the transactions view
func (s *Schema) resolveTransactions(p graphql.ResolveParams) (interface{}, error) {
	limit, err := limitOf(p)
	if err != nil {
		return nil, err
	}
	status, _ := p.Args["status"].(string)

	records := s.source.Transactions()
	out := make([]interface{}, 0, len(records))
	for _, r := range records {
		if status != "" && string(r.Status) != status {
			continue
		}
		if limit >= 0 && len(out) == limit {
			break
		}
		out = append(out, transactionToMap(r))
	}
	return out, nil
}

// resolveTransaction resolves one transaction of the view
func (s *Schema) resolveTransaction(p graphql.ResolveParams) (interface{}, error) {
	hashStr, _ := p.Args["hash"].(string)
	if len(common.FromHex(hashStr)) != common.HashLength {
		return nil, fmt.Errorf("invalid transaction hash %q", hashStr)
	}

	record, ok := s.source.Transaction(common.HexToHash(hashStr))
	if !ok {
		return nil, nil
	}
	return transactionToMap(record), nil
}

// resolveTransfers resolves the transfers view
func (s *Schema) resolveTransfers(p graphql.ResolveParams) (interface{}, error) {
	limit, err := limitOf(p)
	if err != nil {
		return nil, err
	}

	var filter *common.Address
	if addrStr, ok := p.Args["address"].(string); ok {
		if !common.IsHexAddress(addrStr) {
			return nil, fmt.Errorf("invalid address %q", addrStr)
		}
		addr := common.HexToAddress(addrStr)
		filter = &addr
	}

	transfers := s.source.Transfers()
	out := make([]interface{}, 0, len(transfers))
	for _, e := range transfers {
		if filter != nil && e.From != *filter && e.To != *filter {
			continue
		}
		if limit >= 0 && len(out) == limit {
			break
		}
		out = append(out, transferToMap(e))
	}
	return out, nil
}

func (s *Schema) resolveFeeds(p graphql.ResolveParams) (interface{}, error) {
	statuses := s.source.Status()
	out := make([]interface{}, len(statuses))
	for i, st := range statuses {
		out[i] = feedStatusToMap(st)
	}
	return out, nil
}

func (s *Schema) resolveToken(p graphql.ResolveParams) (interface{}, error) {
	metadata := s.source.Token()
	if metadata == nil {
		return nil, nil
	}
	return tokenToMap(metadata), nil
}
