package adapter

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"
	"regexp"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/token-faucet/internal/logging"
)

var addressPattern = regexp.MustCompile(`^0x[a-fA-F0-9]{40}$`)

// knownNetworks maps chain IDs to display names for startup logs
var knownNetworks = map[uint64]string{
	1:        "mainnet",
	10:       "optimism",
	56:       "bsc",
	137:      "polygon",
	1337:     "simulated",
	8453:     "base",
	17000:    "holesky",
	42161:    "arbitrum",
	11155111: "sepolia",
}

// NetworkName returns a display name for chainID
func NetworkName(chainID *big.Int) string {
	if chainID == nil {
		return "unknown"
	}
	if chainID.IsUint64() {
		if name, ok := knownNetworks[chainID.Uint64()]; ok {
			return name
		}
	}
	return "chain-" + chainID.String()
}

// Dial connects to an EVM JSON-RPC endpoint
func Dial(ctx context.Context, rpcURL string) (*ethclient.Client, error) {
	if rpcURL == "" {
		return nil, fmt.Errorf("rpc url cannot be empty")
	}

	client, err := ethclient.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, NewAdapterError("unknown", "Dial", err, map[string]interface{}{
			"rpcURL": redactURL(rpcURL),
		})
	}
	return client, nil
}

// NetworkInfo is the result of a successful connectivity check
type NetworkInfo struct {
	ChainID *big.Int
	Name    string
}

// EnsureConnected checks the RPC endpoint answers and reports the network it serves
func EnsureConnected(ctx context.Context, client EthereumClient) (*NetworkInfo, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	chainID, err := client.ChainID(ctx)
	if err != nil {
		return nil, NewAdapterError("unknown", "ChainID", err, nil)
	}

	info := &NetworkInfo{ChainID: chainID, Name: NetworkName(chainID)}
	logging.FromContext(ctx).WithFields(map[string]interface{}{
		"chainId": chainID.String(),
		"network": info.Name,
	}).Info("Connected to blockchain network")

	return info, nil
}

// ParsePrivateKey parses a hex encoded secp256k1 key, with or without 0x prefix
func ParsePrivateKey(hexKey string) (*ecdsa.PrivateKey, error) {
	key, err := crypto.HexToECDSA(strings.TrimPrefix(strings.TrimSpace(hexKey), "0x"))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidKey, err)
	}
	return key, nil
}

// ValidateAddress checks if address is 0x followed by 40 hex characters
func ValidateAddress(address string) bool {
	if len(address) != 42 {
		return false
	}
	return addressPattern.MatchString(address) && common.IsHexAddress(address)
}

// isTransient reports whether a read error is worth retrying
func isTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}

	errStr := strings.ToLower(err.Error())

	// Rate limit errors
	if strings.Contains(errStr, "rate limit") ||
		strings.Contains(errStr, "too many requests") ||
		strings.Contains(errStr, "429") {
		return true
	}

	// Timeout errors
	if strings.Contains(errStr, "timeout") ||
		strings.Contains(errStr, "deadline exceeded") {
		return true
	}

	// Connection errors
	if strings.Contains(errStr, "connection refused") ||
		strings.Contains(errStr, "connection reset") ||
		strings.Contains(errStr, "no such host") ||
		strings.Contains(errStr, "eof") ||
		strings.Contains(errStr, "502") ||
		strings.Contains(errStr, "503") {
		return true
	}

	return false
}

// redactURL strips the path of an RPC url, which commonly carries an API key
func redactURL(rpcURL string) string {
	if i := strings.Index(rpcURL, "://"); i >= 0 {
		rest := rpcURL[i+3:]
		if j := strings.Index(rest, "/"); j >= 0 {
			return rpcURL[:i+3+j] + "/..."
		}
	}
	return rpcURL
}
