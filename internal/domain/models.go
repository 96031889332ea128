// Package domain defines the core data types of the telemetry gateway: the
// signed packet envelope submitted by field devices, the blockchain receipt
// that anchors a packet digest, the stored record owned by the repository,
// and the result/metrics types produced by the ingest pipeline.
package domain

import "encoding/json"

// TelemetryPacket is the signed telemetry envelope submitted by a device.
//
// Fields:
//   - DeviceID: non-empty device identifier (≤64 chars by convention).
//   - Timestamp: unsigned seconds since epoch; must be positive.
//   - TelemetryJSON: the opaque telemetry object as the exact bytes the
//     sender hashed. It is never re-serialized; the ingest pipeline and the
//     record projection carry it verbatim.
//   - HashHex: 64 hex chars, the SHA-256 of the canonical form
//     deviceId|timestamp|telemetryJson.
//   - Signature: opaque signature string (≥16 chars).
//   - PubKeyID: key lookup identifier for signature verification.
//   - Transport: free-form transport label ("wifi", "lora", …).
//   - BatchCode: optional batch/traceability code; may be empty.
type TelemetryPacket struct {
	DeviceID      string          `json:"deviceId"`
	Timestamp     uint64          `json:"timestamp"`
	TelemetryJSON json.RawMessage `json:"telemetry"`
	HashHex       string          `json:"hash"`
	Signature     string          `json:"signature"`
	PubKeyID      string          `json:"pubKeyId"`
	Transport     string          `json:"transport"`
	BatchCode     string          `json:"batchCode,omitempty"`
}

// BlockchainReceipt is the anchoring proof returned by a blockchain client.
//
// TxHash is unique within a repository. BlockHeight is 0 when the block is
// not yet known (e.g. the receipt poll timed out before inclusion).
// SubmittedAt is an RFC 3339 UTC timestamp.
type BlockchainReceipt struct {
	TxHash      string `json:"txHash"`
	BlockHeight uint64 `json:"blockHeight"`
	SubmittedAt string `json:"submittedAt"`
}

// TelemetryRecord is a packet after acceptance, assigned a stable id by the
// repository. RecordID is monotonically increasing per repository instance,
// starts at 1, and is never reused even after deletion. Receipt is absent
// until anchoring completes and is set at most once during the record's
// accepted lifecycle.
type TelemetryRecord struct {
	RecordID uint64
	Packet   TelemetryPacket
	Receipt  *BlockchainReceipt
}

// MarshalJSON renders the record projection returned by lookup endpoints:
// packet fields flattened next to recordId, telemetry embedded as raw JSON,
// batchCode omitted when empty, receipt always present (null when absent).
func (r TelemetryRecord) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		RecordID  uint64             `json:"recordId"`
		DeviceID  string             `json:"deviceId"`
		Timestamp uint64             `json:"timestamp"`
		Telemetry json.RawMessage    `json:"telemetry"`
		Hash      string             `json:"hash"`
		Signature string             `json:"signature"`
		PubKeyID  string             `json:"pubKeyId"`
		Transport string             `json:"transport"`
		BatchCode string             `json:"batchCode,omitempty"`
		Receipt   *BlockchainReceipt `json:"receipt"`
	}{
		RecordID:  r.RecordID,
		DeviceID:  r.Packet.DeviceID,
		Timestamp: r.Packet.Timestamp,
		Telemetry: r.Packet.TelemetryJSON,
		Hash:      r.Packet.HashHex,
		Signature: r.Packet.Signature,
		PubKeyID:  r.Packet.PubKeyID,
		Transport: r.Packet.Transport,
		BatchCode: r.Packet.BatchCode,
		Receipt:   r.Receipt,
	})
}

// IngestResult is the outcome of one ingest transaction. RecordID is 0 when
// no record was allocated (shape/hash/signature rejections). Receipt is nil
// unless the packet was accepted and anchored.
type IngestResult struct {
	Accepted     bool               `json:"accepted"`
	Message      string             `json:"message"`
	RecordID     uint64             `json:"recordId"`
	ProcessingMs int64              `json:"processingMs"`
	Receipt      *BlockchainReceipt `json:"receipt"`
}

// MetricsSnapshot is a point-in-time view of the ingest counters.
// AverageProcessingMs is integer division of total processing time by total
// requests (0 when no requests have been seen).
type MetricsSnapshot struct {
	TotalRequests       uint64 `json:"totalRequests"`
	AcceptedRequests    uint64 `json:"acceptedRequests"`
	RejectedRequests    uint64 `json:"rejectedRequests"`
	AverageProcessingMs int64  `json:"averageProcessingMs"`
	RepositorySize      uint64 `json:"repositorySize"`
}
