package api

import (
	"net/http"
	"strconv"

	"github.com/ethereum/go-ethereum/common"
	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/0xmhha/chainwatch/internal/logger"
	cwtypes "github.com/0xmhha/chainwatch/types"
)

// TransactionsResponse is returned by /api/transactions
type TransactionsResponse struct {
	Count        int                         `json:"count"`
	Transactions []cwtypes.TransactionRecord `json:"transactions"`
}

// TransfersResponse is returned by /api/transfers
type TransfersResponse struct {
	Count     int                     `json:"count"`
	Transfers []cwtypes.TransferEvent `json:"transfers"`
}

// queryLimit parses ?limit=. Missing means no limit.
func queryLimit(r *http.Request) (int, bool) {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return -1, true
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, false
	}
	return n, true
}

func (s *Server) handleTransactions(w http.ResponseWriter, r *http.Request) {
	limit, ok := queryLimit(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "limit must be a non-negative integer")
		return
	}

	status := cwtypes.TxStatus(r.URL.Query().Get("status"))
	switch status {
	case "", cwtypes.TxStatusPending, cwtypes.TxStatusConfirmed, cwtypes.TxStatusFailed:
	default:
		writeError(w, http.StatusBadRequest, "status must be one of pending, confirmed, failed")
		return
	}

	out := make([]cwtypes.TransactionRecord, 0)
	for _, record := range s.source.Transactions() {
		if status != "" && record.Status != status {
			continue
		}
		if limit >= 0 && len(out) == limit {
			break
		}
		out = append(out, record)
	}

	writeJSON(w, http.StatusOK, TransactionsResponse{Count: len(out), Transactions: out})
}

func (s *Server) handleTransaction(w http.ResponseWriter, r *http.Request) {
	raw := chi.URLParam(r, "hash")
	if len(common.FromHex(raw)) != common.HashLength {
		writeError(w, http.StatusBadRequest, "invalid transaction hash")
		return
	}

	record, ok := s.source.Transaction(common.HexToHash(raw))
	if !ok {
		logger.FromContext(r.Context()).Debug("transaction not in view", zap.String("tx_hash", raw))
		writeError(w, http.StatusNotFound, cwtypes.ErrTxNotFound.Error())
		return
	}
	writeJSON(w, http.StatusOK, record)
}

func (s *Server) handleTransfers(w http.ResponseWriter, r *http.Request) {
	limit, ok := queryLimit(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "limit must be a non-negative integer")
		return
	}

	var filter *common.Address
	if raw := r.URL.Query().Get("address"); raw != "" {
		if !common.IsHexAddress(raw) {
			writeError(w, http.StatusBadRequest, "invalid address")
			return
		}
		addr := common.HexToAddress(raw)
		filter = &addr
	}

	out := make([]cwtypes.TransferEvent, 0)
	for _, transfer := range s.source.Transfers() {
		if filter != nil && transfer.From != *filter && transfer.To != *filter {
			continue
		}
		if limit >= 0 && len(out) == limit {
			break
		}
		out = append(out, transfer)
	}

	writeJSON(w, http.StatusOK, TransfersResponse{Count: len(out), Transfers: out})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{"feeds": s.source.Status()})
}

func (s *Server) handleToken(w http.ResponseWriter, r *http.Request) {
	metadata := s.source.Token()
	if metadata == nil {
		writeError(w, http.StatusNotFound, "token metadata not loaded")
		return
	}
	writeJSON(w, http.StatusOK, metadata)
}
