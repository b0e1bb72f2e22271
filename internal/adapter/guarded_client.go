package adapter

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	ethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/token-faucet/internal/circuitbreaker"
)

// GuardedClient routes every RPC call through a circuit breaker so a dead
// endpoint fails drips immediately instead of once per retry budget.
type GuardedClient struct {
	client  EthereumClient
	breaker *circuitbreaker.CircuitBreaker
}

// NewGuardedClient wraps client. Only transient transport errors count against the circuit.
func NewGuardedClient(client EthereumClient, cfg *circuitbreaker.Config) *GuardedClient {
	if cfg == nil {
		cfg = circuitbreaker.DefaultConfig("rpc")
	}
	guarded := *cfg
	guarded.IsFailure = countsAgainstCircuit
	return &GuardedClient{
		client:  client,
		breaker: circuitbreaker.NewCircuitBreaker(&guarded),
	}
}

func countsAgainstCircuit(err error) bool {
	return !errors.Is(err, ethereum.NotFound) && isTransient(err)
}

// Breaker exposes the circuit for health reporting
func (g *GuardedClient) Breaker() *circuitbreaker.CircuitBreaker {
	return g.breaker
}

// Healthy returns an error while the circuit is open
func (g *GuardedClient) Healthy(context.Context) error {
	if state := g.breaker.GetState(); state == circuitbreaker.StateOpen {
		return fmt.Errorf("rpc %w", circuitbreaker.ErrCircuitOpen)
	}
	return nil
}

// ChainID implements EthereumClient
func (g *GuardedClient) ChainID(ctx context.Context) (*big.Int, error) {
	var out *big.Int
	err := g.breaker.Execute(ctx, func(ctx context.Context) error {
		var err error
		out, err = g.client.ChainID(ctx)
		return err
	})
	return out, err
}

// BalanceAt implements EthereumClient
func (g *GuardedClient) BalanceAt(ctx context.Context, account common.Address, blockNumber *big.Int) (*big.Int, error) {
	var out *big.Int
	err := g.breaker.Execute(ctx, func(ctx context.Context) error {
		var err error
		out, err = g.client.BalanceAt(ctx, account, blockNumber)
		return err
	})
	return out, err
}

// NonceAt implements EthereumClient
func (g *GuardedClient) NonceAt(ctx context.Context, account common.Address, blockNumber *big.Int) (uint64, error) {
	var out uint64
	err := g.breaker.Execute(ctx, func(ctx context.Context) error {
		var err error
		out, err = g.client.NonceAt(ctx, account, blockNumber)
		return err
	})
	return out, err
}

// SuggestGasPrice implements EthereumClient
func (g *GuardedClient) SuggestGasPrice(ctx context.Context) (*big.Int, error) {
	var out *big.Int
	err := g.breaker.Execute(ctx, func(ctx context.Context) error {
		var err error
		out, err = g.client.SuggestGasPrice(ctx)
		return err
	})
	return out, err
}

// SendTransaction implements EthereumClient
func (g *GuardedClient) SendTransaction(ctx context.Context, tx *ethtypes.Transaction) error {
	return g.breaker.Execute(ctx, func(ctx context.Context) error {
		return g.client.SendTransaction(ctx, tx)
	})
}

// TransactionReceipt implements EthereumClient
func (g *GuardedClient) TransactionReceipt(ctx context.Context, txHash common.Hash) (*ethtypes.Receipt, error) {
	var out *ethtypes.Receipt
	err := g.breaker.Execute(ctx, func(ctx context.Context) error {
		var err error
		out, err = g.client.TransactionReceipt(ctx, txHash)
		return err
	})
	return out, err
}
