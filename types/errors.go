package types

import "errors"

var (
	// ErrConnection marks a node that is unreachable while a subscription is being set up
	ErrConnection = errors.New("connection error")

	// ErrResolution marks a failed fetch of a single transaction, receipt, block or log
	ErrResolution = errors.New("resolution error")

	// ErrNormalization marks a log or timestamp that cannot be decoded
	ErrNormalization = errors.New("normalization error")

	// ErrTxNotFound marks a transaction the node does not know yet
	ErrTxNotFound = errors.New("transaction not found")
)
