package adapter

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	ethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/shopspring/decimal"
	"github.com/token-faucet/internal/config"
	apperrors "github.com/token-faucet/internal/errors"
	"github.com/token-faucet/internal/logging"
	"github.com/token-faucet/internal/retry"
)

// Native token decimals; amounts are configured in whole units and sent in wei
const nativeDecimals = 18

// Progress stages reported by Send
const (
	StageBalance   = "balance"
	StageNonce     = "nonce"
	StageGasPrice  = "gas_price"
	StageSign      = "sign"
	StageBroadcast = "broadcast"
	StageConfirm   = "confirm"
	StageConfirmed = "confirmed"
)

// ProgressFunc is called at every step of a submission and on every confirmation poll
type ProgressFunc func(stage string)

// Transfer describes a confirmed drip transaction
type Transfer struct {
	Hash        string          `json:"hash"`
	To          string          `json:"to"`
	Nonce       uint64          `json:"nonce"`
	Value       decimal.Decimal `json:"value"`
	GasPrice    *big.Int        `json:"gasPrice"`
	BlockNumber uint64          `json:"blockNumber"`
}

// EngineConfig holds the transfer parameters of the engine
type EngineConfig struct {
	Amount               decimal.Decimal // whole token units per drip
	BalanceFloor         decimal.Decimal // whole token units
	FeeMultiplierPercent int64
	GasLimit             uint64
	ConfirmTimeout       time.Duration
	PollInterval         time.Duration
	ReadRetry            *retry.Config
}

// EngineConfigFrom builds an EngineConfig from the chain section of the config
func EngineConfigFrom(cfg *config.ChainConfig) EngineConfig {
	return EngineConfig{
		Amount:               cfg.TokenAmount,
		BalanceFloor:         cfg.BalanceFloor,
		FeeMultiplierPercent: cfg.FeeMultiplierPercent,
		GasLimit:             cfg.GasLimit,
		ConfirmTimeout:       cfg.ConfirmTimeout,
		PollInterval:         cfg.PollInterval,
		ReadRetry:            retry.DefaultConfig(),
	}
}

// SubmissionEngine sends native token transfers from a single signer.
// It is not safe for concurrent Send calls; the drip queue worker is its only caller.
type SubmissionEngine struct {
	client EthereumClient
	key    *ecdsa.PrivateKey
	signer common.Address
	cfg    EngineConfig

	mu      sync.Mutex
	chainID *big.Int
}

// NewSubmissionEngine creates an engine signing with key
func NewSubmissionEngine(client EthereumClient, key *ecdsa.PrivateKey, cfg EngineConfig) (*SubmissionEngine, error) {
	if client == nil {
		return nil, fmt.Errorf("ethereum client cannot be nil")
	}
	if key == nil {
		return nil, ErrInvalidKey
	}
	if !cfg.Amount.IsPositive() {
		return nil, fmt.Errorf("transfer amount must be positive, got %s", cfg.Amount)
	}
	if cfg.FeeMultiplierPercent <= 0 {
		cfg.FeeMultiplierPercent = 100
	}
	if cfg.GasLimit == 0 {
		cfg.GasLimit = 21000
	}
	if cfg.ConfirmTimeout <= 0 {
		cfg.ConfirmTimeout = 2 * time.Minute
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = time.Second
	}
	if cfg.ReadRetry == nil {
		cfg.ReadRetry = retry.DefaultConfig()
	}

	return &SubmissionEngine{
		client: client,
		key:    key,
		signer: crypto.PubkeyToAddress(key.PublicKey),
		cfg:    cfg,
	}, nil
}

// SignerAddress returns the address drips are sent from
func (e *SubmissionEngine) SignerAddress() common.Address {
	return e.signer
}

// Amount returns the configured amount per drip
func (e *SubmissionEngine) Amount() decimal.Decimal {
	return e.cfg.Amount
}

// Send transfers the configured amount to address and waits for it to be mined.
// Errors are *apperrors.DripError of kind ResourceExhausted, SequenceAcquisitionFailed
// or SubmissionFailed.
func (e *SubmissionEngine) Send(ctx context.Context, address string, progress ProgressFunc) (*Transfer, error) {
	if progress == nil {
		progress = func(string) {}
	}
	if !ValidateAddress(address) {
		return nil, apperrors.NewSubmissionError(StageSign, fmt.Errorf("%w: %s", ErrInvalidAddress, address))
	}
	to := common.HexToAddress(address)

	logger := logging.FromContext(ctx).WithFields(map[string]interface{}{
		"signer":    e.signer.Hex(),
		"recipient": to.Hex(),
	})

	progress(StageBalance)
	balance, err := retry.Value(ctx, e.readRetry(), func(ctx context.Context) (*big.Int, error) {
		return e.client.BalanceAt(ctx, e.signer, nil)
	})
	if err != nil {
		return nil, apperrors.NewSubmissionError(StageBalance, err)
	}
	balanceUnits := decimal.NewFromBigInt(balance, -nativeDecimals)
	if balanceUnits.LessThan(e.cfg.BalanceFloor) {
		logger.WithFields(map[string]interface{}{
			"balance": balanceUnits.String(),
			"floor":   e.cfg.BalanceFloor.String(),
		}).Warn("Faucet balance below floor, refusing drip")
		return nil, apperrors.NewResourceExhaustedError(balanceUnits.String(), e.cfg.BalanceFloor.String())
	}

	progress(StageNonce)
	nonce, err := retry.Value(ctx, e.readRetry(), func(ctx context.Context) (uint64, error) {
		return e.client.NonceAt(ctx, e.signer, nil)
	})
	if err != nil {
		return nil, apperrors.NewSequenceAcquisitionError(err)
	}

	progress(StageGasPrice)
	suggested, err := retry.Value(ctx, e.readRetry(), func(ctx context.Context) (*big.Int, error) {
		return e.client.SuggestGasPrice(ctx)
	})
	if err != nil {
		return nil, apperrors.NewSubmissionError(StageGasPrice, err)
	}
	gasPrice := EscalateGasPrice(suggested, e.cfg.FeeMultiplierPercent)

	progress(StageSign)
	chainID, err := e.chainIDFor(ctx)
	if err != nil {
		return nil, apperrors.NewSubmissionError(StageSign, err)
	}

	value := e.cfg.Amount.Shift(nativeDecimals).BigInt()
	tx := ethtypes.NewTx(&ethtypes.LegacyTx{
		Nonce:    nonce,
		To:       &to,
		Value:    value,
		Gas:      e.cfg.GasLimit,
		GasPrice: gasPrice,
	})
	signed, err := ethtypes.SignTx(tx, ethtypes.LatestSignerForChainID(chainID), e.key)
	if err != nil {
		return nil, apperrors.NewSubmissionError(StageSign, err)
	}

	progress(StageBroadcast)
	if err := e.client.SendTransaction(ctx, signed); err != nil {
		return nil, apperrors.NewSubmissionError(StageBroadcast, NewAdapterError(NetworkName(chainID), "SendTransaction", err, map[string]interface{}{
			"nonce": nonce,
		}))
	}

	hash := signed.Hash()
	logger.WithFields(map[string]interface{}{
		"txHash":   hash.Hex(),
		"nonce":    nonce,
		"gasPrice": gasPrice.String(),
	}).Info("Drip transaction broadcast")

	receipt, err := e.waitMined(ctx, hash, progress)
	if err != nil {
		return nil, apperrors.NewSubmissionError(StageConfirm, err)
	}
	if receipt.Status != ethtypes.ReceiptStatusSuccessful {
		return nil, apperrors.NewSubmissionError(StageConfirm, fmt.Errorf("%w: %s", ErrTransactionReverted, hash.Hex()))
	}
	progress(StageConfirmed)

	transfer := &Transfer{
		Hash:     hash.Hex(),
		To:       to.Hex(),
		Nonce:    nonce,
		Value:    e.cfg.Amount,
		GasPrice: gasPrice,
	}
	if receipt.BlockNumber != nil {
		transfer.BlockNumber = receipt.BlockNumber.Uint64()
	}

	logger.WithFields(map[string]interface{}{
		"txHash":      transfer.Hash,
		"blockNumber": transfer.BlockNumber,
	}).Info("Drip transaction confirmed")

	return transfer, nil
}

// EscalateGasPrice returns suggested * percent / 100
func EscalateGasPrice(suggested *big.Int, percent int64) *big.Int {
	out := new(big.Int).Mul(suggested, big.NewInt(percent))
	return out.Div(out, big.NewInt(100))
}

// waitMined polls for the receipt of hash until it is mined, ConfirmTimeout passes or ctx is done.
// The transaction is already broadcast, so receipt errors are logged and polled through.
func (e *SubmissionEngine) waitMined(ctx context.Context, hash common.Hash, progress ProgressFunc) (*ethtypes.Receipt, error) {
	ctx, cancel := context.WithTimeout(ctx, e.cfg.ConfirmTimeout)
	defer cancel()

	logger := logging.FromContext(ctx).WithField("txHash", hash.Hex())

	ticker := time.NewTicker(e.cfg.PollInterval)
	defer ticker.Stop()

	var lastErr error
	for {
		progress(StageConfirm)

		receipt, err := e.client.TransactionReceipt(ctx, hash)
		if err == nil && receipt != nil {
			return receipt, nil
		}
		if err != nil && !errors.Is(err, ethereum.NotFound) && ctx.Err() == nil {
			lastErr = err
			logger.WithError(err).Debug("Receipt retrieval failed, polling again")
		}

		select {
		case <-ctx.Done():
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				if lastErr != nil {
					return nil, fmt.Errorf("%w after %s: %s (last error: %v)", ErrConfirmationTimeout, e.cfg.ConfirmTimeout, hash.Hex(), lastErr)
				}
				return nil, fmt.Errorf("%w after %s: %s", ErrConfirmationTimeout, e.cfg.ConfirmTimeout, hash.Hex())
			}
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

func (e *SubmissionEngine) chainIDFor(ctx context.Context) (*big.Int, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.chainID != nil {
		return e.chainID, nil
	}

	chainID, err := retry.Value(ctx, e.readRetry(), func(ctx context.Context) (*big.Int, error) {
		return e.client.ChainID(ctx)
	})
	if err != nil {
		return nil, err
	}
	e.chainID = chainID
	return chainID, nil
}

func (e *SubmissionEngine) readRetry() *retry.Config {
	cfg := *e.cfg.ReadRetry
	cfg.Retryable = isTransient
	return &cfg
}
