// Package blockchain submits packet digests to a ledger and returns
// anchoring receipts. Two clients exist: a deterministic mock for tests and
// sandbox deployments, and a JSON-RPC client for Ethereum-compatible nodes.
package blockchain

import (
	"context"
	"time"

	"github.com/agrichain/telemetry-gateway/internal/domain"
)

// Client anchors a digest on a ledger. SubmitHash blocks until the receipt
// is available (or, for the RPC client, until the configured wait budget is
// spent) and fails with a descriptive error on any unrecoverable anomaly.
type Client interface {
	SubmitHash(ctx context.Context, hashHex, deviceID string, timestamp uint64) (domain.BlockchainReceipt, error)
}

// EthereumRPCConfig configures the JSON-RPC client.
//
// ToAddress defaults to FromAddress when empty. PollInterval is the pause
// between eth_getTransactionReceipt polls; MaxWait bounds the total polling
// time after which the partial receipt (block height 0) is returned as a
// success.
type EthereumRPCConfig struct {
	RPCURL       string
	FromAddress  string
	ToAddress    string
	PollInterval time.Duration
	MaxWait      time.Duration
}
