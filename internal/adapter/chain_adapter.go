package adapter

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	ethtypes "github.com/ethereum/go-ethereum/core/types"
)

// EthereumClient is the subset of the JSON-RPC client the faucet needs.
// *ethclient.Client and the simulated backend client both satisfy it.
type EthereumClient interface {
	// ChainID returns the chain identifier used for replay-protected signing
	ChainID(ctx context.Context) (*big.Int, error)

	// BalanceAt returns the wei balance of account; nil blockNumber means latest
	BalanceAt(ctx context.Context, account common.Address, blockNumber *big.Int) (*big.Int, error)

	// NonceAt returns the transaction count of account; nil blockNumber means latest
	NonceAt(ctx context.Context, account common.Address, blockNumber *big.Int) (uint64, error)

	// SuggestGasPrice returns the node's legacy gas price suggestion
	SuggestGasPrice(ctx context.Context) (*big.Int, error)

	// SendTransaction broadcasts a signed transaction
	SendTransaction(ctx context.Context, tx *ethtypes.Transaction) error

	// TransactionReceipt returns ethereum.NotFound until the transaction is mined
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*ethtypes.Receipt, error)
}

// Common error types for the chain adapter

var (
	// ErrInvalidAddress indicates the address format is invalid
	ErrInvalidAddress = fmt.Errorf("invalid address format")

	// ErrInvalidKey indicates the signer private key could not be parsed
	ErrInvalidKey = fmt.Errorf("invalid signer private key")

	// ErrTransactionReverted indicates the transfer was mined with a failed status
	ErrTransactionReverted = fmt.Errorf("transaction reverted")

	// ErrConfirmationTimeout indicates the transfer was not mined in time
	ErrConfirmationTimeout = fmt.Errorf("transaction not confirmed in time")
)

// AdapterError wraps errors with additional context
type AdapterError struct {
	Network string
	Op      string // Operation that failed (e.g., "BalanceAt", "SendTransaction")
	Err     error
	Details map[string]interface{}
}

func (e *AdapterError) Error() string {
	if len(e.Details) > 0 {
		return fmt.Sprintf("chain adapter error [%s:%s]: %v (details: %+v)", e.Network, e.Op, e.Err, e.Details)
	}
	return fmt.Sprintf("chain adapter error [%s:%s]: %v", e.Network, e.Op, e.Err)
}

func (e *AdapterError) Unwrap() error {
	return e.Err
}

// NewAdapterError creates a new AdapterError
func NewAdapterError(network, op string, err error, details map[string]interface{}) *AdapterError {
	return &AdapterError{
		Network: network,
		Op:      op,
		Err:     err,
		Details: details,
	}
}
