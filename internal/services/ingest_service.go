// Package services implements the ingest pipeline: the multi-stage
// transaction that validates a telemetry packet, persists it, anchors its
// digest on the ledger, binds the receipt, and accounts for the outcome.
//
// The pipeline spans two stateful externals (the local repository and the
// remote chain) with no distributed transaction between them. Ordering is
// pinned — store first, anchor second, bind third — and the anchor/bind
// stages compensate with a best-effort rollback delete: a receipt without a
// stored record would be unrecoverable, while a stored record without an
// anchor is observable and must be erased.
package services

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/agrichain/telemetry-gateway/internal/codec"
	"github.com/agrichain/telemetry-gateway/internal/domain"
	"github.com/agrichain/telemetry-gateway/internal/utils"
)

// TelemetryRepository is the storage contract required by the ingest
// pipeline. Implementations must be safe for concurrent use, with each
// operation atomic with respect to the others.
type TelemetryRepository interface {
	// Save allocates the next record id and stores an owned packet copy.
	Save(ctx context.Context, packet domain.TelemetryPacket) (uint64, error)
	// AttachReceipt binds a receipt to an existing record; false when the
	// id is unknown.
	AttachReceipt(ctx context.Context, recordID uint64, receipt domain.BlockchainReceipt) (bool, error)
	// Delete removes a record and its index entries; true iff one existed.
	Delete(ctx context.Context, recordID uint64) (bool, error)
	// LatestByDevice returns the record with the highest (timestamp,
	// recordId) pair for the device, or nil.
	LatestByDevice(ctx context.Context, deviceID string) (*domain.TelemetryRecord, error)
	// FindByTransaction returns the unique record anchored by txHash, or nil.
	FindByTransaction(ctx context.Context, txHash string) (*domain.TelemetryRecord, error)
	// FindByBatch returns a batch's records in (timestamp, recordId) order.
	FindByBatch(ctx context.Context, batchCode string) ([]domain.TelemetryRecord, error)
	// Size returns the current record count.
	Size(ctx context.Context) (uint64, error)
}

// SignatureVerifier validates a packet signature against a known key.
type SignatureVerifier interface {
	Verify(packet domain.TelemetryPacket) bool
}

// BlockchainClient anchors a digest and returns the receipt.
type BlockchainClient interface {
	SubmitHash(ctx context.Context, hashHex, deviceID string, timestamp uint64) (domain.BlockchainReceipt, error)
}

// IngestService orchestrates the ingest transaction and owns the domain
// metrics. The metrics mutex is separate from the repository's internal
// lock, and no lock is held across the blockchain call, so concurrent
// ingests may be anchored in any order.
type IngestService struct {
	repo     TelemetryRepository
	verifier SignatureVerifier
	chain    BlockchainClient

	mu                sync.Mutex
	totalRequests     uint64
	acceptedRequests  uint64
	rejectedRequests  uint64
	totalProcessingMs int64
}

// NewIngestService wires the pipeline's collaborators.
func NewIngestService(repo TelemetryRepository, verifier SignatureVerifier, chain BlockchainClient) *IngestService {
	return &IngestService{repo: repo, verifier: verifier, chain: chain}
}

// Ingest runs the full transaction for one packet. It never returns an
// error: every failure mode is folded into a rejected result with a stable
// message, and exactly one of accepted/rejected is counted per call.
func (s *IngestService) Ingest(ctx context.Context, packet domain.TelemetryPacket) domain.IngestResult {
	begin := time.Now()

	var result domain.IngestResult
	finish := func(accepted bool, message string) domain.IngestResult {
		elapsedMs := time.Since(begin).Milliseconds()
		result.Accepted = accepted
		result.Message = message
		result.ProcessingMs = elapsedMs
		s.record(accepted, elapsedMs)
		return result
	}

	// stage 1: shape checks, no state touched
	if packet.DeviceID == "" {
		return finish(false, "deviceId is required")
	}
	if packet.Timestamp == 0 {
		return finish(false, "timestamp must be positive")
	}
	if len(packet.TelemetryJSON) == 0 {
		return finish(false, "telemetry payload is required")
	}
	if !codec.IsHex64(packet.HashHex) {
		return finish(false, "hash must be 64 hex characters")
	}

	// stage 2: hash binding against the firmware canonical form
	canonical := fmt.Sprintf("%s|%d|%s", packet.DeviceID, packet.Timestamp, packet.TelemetryJSON)
	if utils.Sha256Hex(canonical) != packet.HashHex {
		return finish(false, "hash mismatch with payload")
	}

	// stage 3: signature
	if !s.verifier.Verify(packet) {
		return finish(false, "signature verification failed")
	}

	// stage 4: persist
	recordID, err := s.repo.Save(ctx, packet)
	if err != nil {
		return finish(false, "telemetry persistence failed: "+err.Error())
	}
	result.RecordID = recordID

	// stage 5: anchor; on failure the record must not stay observable
	receipt, err := s.chain.SubmitHash(ctx, packet.HashHex, packet.DeviceID, packet.Timestamp)
	if err != nil {
		suffix := s.rollback(ctx, recordID)
		return finish(false, "blockchain submit failed: "+err.Error()+suffix)
	}

	// stage 6: bind receipt
	attached, err := s.repo.AttachReceipt(ctx, recordID, receipt)
	if err != nil || !attached {
		suffix := s.rollback(ctx, recordID)
		return finish(false, "receipt persistence failed after blockchain submit"+suffix)
	}

	// stage 7: accept
	result.Receipt = &receipt
	return finish(true, "accepted")
}

// rollback deletes a half-ingested record, best-effort. Its own failure is
// reported as a message suffix so the caller sees both faults; it never
// masks the original cause.
func (s *IngestService) rollback(ctx context.Context, recordID uint64) string {
	removed, err := s.repo.Delete(ctx, recordID)
	if err != nil {
		return "; rollback delete failed: " + err.Error()
	}
	if !removed {
		return "; rollback delete did not remove record"
	}
	return ""
}

// MetricsSnapshot returns the current counters together with the repository
// size. The average is integer division and 0 before the first request.
func (s *IngestService) MetricsSnapshot(ctx context.Context) domain.MetricsSnapshot {
	size, err := s.repo.Size(ctx)
	if err != nil {
		size = 0
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var average int64
	if s.totalRequests > 0 {
		average = s.totalProcessingMs / int64(s.totalRequests)
	}
	return domain.MetricsSnapshot{
		TotalRequests:       s.totalRequests,
		AcceptedRequests:    s.acceptedRequests,
		RejectedRequests:    s.rejectedRequests,
		AverageProcessingMs: average,
		RepositorySize:      size,
	}
}

func (s *IngestService) record(accepted bool, processingMs int64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.totalRequests++
	if accepted {
		s.acceptedRequests++
	} else {
		s.rejectedRequests++
	}
	s.totalProcessingMs += processingMs
}
