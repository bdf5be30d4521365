package graphql

import (
	"fmt"
	"time"

	"github.com/0xmhha/chainwatch/monitor"
	"github.com/0xmhha/chainwatch/token"
	cwtypes "github.com/0xmhha/chainwatch/types"
)

// transactionToMap converts a transaction record to a GraphQL-friendly map
func transactionToMap(r cwtypes.TransactionRecord) map[string]interface{} {
	result := map[string]interface{}{
		"hash":             r.Hash.Hex(),
		"from":             r.From.Hex(),
		"to":               nil,
		"value":            r.ValueEther.String(),
		"valueWei":         "0",
		"status":           string(r.Status),
		"blockNumber":      fmt.Sprintf("%d", r.BlockNumber),
		"contractCreation": r.IsContractCreation(),
	}
	if r.To != nil {
		result["to"] = r.To.Hex()
	}
	if r.Value != nil {
		result["valueWei"] = r.Value.String()
	}
	return result
}

// transferToMap converts a transfer event to a GraphQL-friendly map
func transferToMap(e cwtypes.TransferEvent) map[string]interface{} {
	raw := "0"
	if e.RawAmount != nil {
		raw = e.RawAmount.String()
	}
	return map[string]interface{}{
		"from":            e.From.Hex(),
		"to":              e.To.Hex(),
		"amount":          e.Amount.String(),
		"rawAmount":       raw,
		"timestamp":       fmt.Sprintf("%d", e.Timestamp),
		"transactionHash": e.TransactionHash.Hex(),
		"blockNumber":     fmt.Sprintf("%d", e.BlockNumber),
		"logIndex":        int(e.LogIndex),
	}
}

func feedStatusToMap(st monitor.FeedStatus) map[string]interface{} {
	result := map[string]interface{}{
		"feed":      st.Feed,
		"enabled":   st.Enabled,
		"connected": st.Connected,
		"lastError": nil,
		"updatedAt": nil,
	}
	if st.LastError != "" {
		result["lastError"] = st.LastError
	}
	if !st.UpdatedAt.IsZero() {
		result["updatedAt"] = st.UpdatedAt.UTC().Format(time.RFC3339)
	}
	return result
}

func tokenToMap(m *token.Metadata) map[string]interface{} {
	result := map[string]interface{}{
		"address":     m.Address.Hex(),
		"name":        nil,
		"symbol":      nil,
		"decimals":    int(m.Decimals),
		"totalSupply": nil,
	}
	if _, failed := m.Errors["name"]; !failed {
		result["name"] = m.Name
	}
	if _, failed := m.Errors["symbol"]; !failed {
		result["symbol"] = m.Symbol
	}
	if _, failed := m.Errors["totalSupply"]; !failed {
		result["totalSupply"] = m.TotalSupply.String()
	}
	return result
}
