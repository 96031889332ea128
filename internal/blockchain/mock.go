package blockchain

import (
	"context"
	"fmt"
	"strconv"
	"sync/atomic"

	"github.com/agrichain/telemetry-gateway/internal/domain"
	"github.com/agrichain/telemetry-gateway/internal/utils"
)

// MockClient produces deterministic receipts without touching a network.
// The transaction hash is the SHA-256 of hash|device|timestamp|counter, so
// repeated submissions of the same packet still yield distinct anchors.
type MockClient struct {
	counter atomic.Uint64
}

// NewMockClient returns a mock ledger client.
func NewMockClient() *MockClient { return &MockClient{} }

// SubmitHash implements Client.
func (c *MockClient) SubmitHash(_ context.Context, hashHex, deviceID string, timestamp uint64) (domain.BlockchainReceipt, error) {
	nonce := c.counter.Add(1)
	payload := fmt.Sprintf("%s|%s|%d|%d", hashHex, deviceID, timestamp, nonce)
	txHash := utils.Sha256Hex(payload)

	blockHeight := uint64(100000)
	if prefix, err := strconv.ParseUint(txHash[:8], 16, 64); err == nil {
		blockHeight += prefix % 900000
	}

	return domain.BlockchainReceipt{
		TxHash:      txHash,
		BlockHeight: blockHeight,
		SubmittedAt: utils.NowUTCISO8601(),
	}, nil
}
