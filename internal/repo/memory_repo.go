package repo

import (
	"context"
	"errors"
	"sort"
	"sync"

	"github.com/agrichain/telemetry-gateway/internal/domain"
)

// InMemoryTelemetryRepository is the volatile repository: an ordered slice
// of records plus lookup maps (id→position, device→ids, batch→ids,
// txHash→id). It honors the same contracts as the SQLite repository,
// including monotonic never-reused ids starting at 1. Deletion compacts the
// slice and repairs the position map for every record past the deletion
// point.
type InMemoryTelemetryRepository struct {
	mu           sync.Mutex
	nextRecordID uint64
	records      []domain.TelemetryRecord
	positionByID map[uint64]int
	idsByDevice  map[string][]uint64
	idsByBatch   map[string][]uint64
	idByTxHash   map[string]uint64
}

// NewInMemoryTelemetryRepository returns an empty repository.
func NewInMemoryTelemetryRepository() *InMemoryTelemetryRepository {
	return &InMemoryTelemetryRepository{
		nextRecordID: 1,
		positionByID: make(map[uint64]int),
		idsByDevice:  make(map[string][]uint64),
		idsByBatch:   make(map[string][]uint64),
		idByTxHash:   make(map[string]uint64),
	}
}

// Save stores an owned copy of the packet and returns the allocated id.
func (r *InMemoryTelemetryRepository) Save(_ context.Context, packet domain.TelemetryPacket) (uint64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	recordID := r.nextRecordID
	r.nextRecordID++

	packet.TelemetryJSON = append([]byte(nil), packet.TelemetryJSON...)
	r.records = append(r.records, domain.TelemetryRecord{RecordID: recordID, Packet: packet})
	r.positionByID[recordID] = len(r.records) - 1
	r.idsByDevice[packet.DeviceID] = append(r.idsByDevice[packet.DeviceID], recordID)
	if packet.BatchCode != "" {
		r.idsByBatch[packet.BatchCode] = append(r.idsByBatch[packet.BatchCode], recordID)
	}
	return recordID, nil
}

// AttachReceipt sets the record's receipt and indexes it by txHash.
// Returns false when the id is unknown.
func (r *InMemoryTelemetryRepository) AttachReceipt(_ context.Context, recordID uint64, receipt domain.BlockchainReceipt) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	pos, ok := r.positionByID[recordID]
	if !ok {
		return false, nil
	}
	if owner, taken := r.idByTxHash[receipt.TxHash]; taken && owner != recordID {
		return false, errors.New("attach receipt: txHash already bound to another record")
	}
	r.records[pos].Receipt = &receipt
	r.idByTxHash[receipt.TxHash] = recordID
	return true, nil
}

// Delete removes a record and all of its index entries. Returns true iff a
// record was removed.
func (r *InMemoryTelemetryRepository) Delete(_ context.Context, recordID uint64) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	pos, ok := r.positionByID[recordID]
	if !ok {
		return false, nil
	}
	record := r.records[pos]

	if ids, ok := r.idsByDevice[record.Packet.DeviceID]; ok {
		ids = removeID(ids, recordID)
		if len(ids) == 0 {
			delete(r.idsByDevice, record.Packet.DeviceID)
		} else {
			r.idsByDevice[record.Packet.DeviceID] = ids
		}
	}
	if record.Packet.BatchCode != "" {
		if ids, ok := r.idsByBatch[record.Packet.BatchCode]; ok {
			ids = removeID(ids, recordID)
			if len(ids) == 0 {
				delete(r.idsByBatch, record.Packet.BatchCode)
			} else {
				r.idsByBatch[record.Packet.BatchCode] = ids
			}
		}
	}
	if record.Receipt != nil {
		delete(r.idByTxHash, record.Receipt.TxHash)
	}

	r.records = append(r.records[:pos], r.records[pos+1:]...)
	delete(r.positionByID, recordID)
	for i := pos; i < len(r.records); i++ {
		r.positionByID[r.records[i].RecordID] = i
	}
	return true, nil
}

// LatestByDevice returns the record with the largest (timestamp, recordId)
// pair for the device, or nil when the device has none.
func (r *InMemoryTelemetryRepository) LatestByDevice(_ context.Context, deviceID string) (*domain.TelemetryRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	ids := r.idsByDevice[deviceID]
	if len(ids) == 0 {
		return nil, nil
	}

	var latest *domain.TelemetryRecord
	for _, id := range ids {
		rec, ok := r.findByIDLocked(id)
		if !ok {
			continue
		}
		if latest == nil ||
			rec.Packet.Timestamp > latest.Packet.Timestamp ||
			(rec.Packet.Timestamp == latest.Packet.Timestamp && rec.RecordID > latest.RecordID) {
			copied := rec
			latest = &copied
		}
	}
	return latest, nil
}

// FindByTransaction returns the record anchored by txHash, or nil.
func (r *InMemoryTelemetryRepository) FindByTransaction(_ context.Context, txHash string) (*domain.TelemetryRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	id, ok := r.idByTxHash[txHash]
	if !ok {
		return nil, nil
	}
	rec, ok := r.findByIDLocked(id)
	if !ok {
		return nil, nil
	}
	return &rec, nil
}

// FindByBatch returns the batch's records in (timestamp ASC, recordId ASC)
// order. The batch index keeps ids in save order, which is recordId order
// but not necessarily timestamp order, so the result is sorted explicitly.
func (r *InMemoryTelemetryRepository) FindByBatch(_ context.Context, batchCode string) ([]domain.TelemetryRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	records := []domain.TelemetryRecord{}
	if batchCode == "" {
		return records, nil
	}
	for _, id := range r.idsByBatch[batchCode] {
		if rec, ok := r.findByIDLocked(id); ok {
			records = append(records, rec)
		}
	}
	sortRecords(records)
	return records, nil
}

// Size returns the current record count.
func (r *InMemoryTelemetryRepository) Size(_ context.Context) (uint64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return uint64(len(r.records)), nil
}

func (r *InMemoryTelemetryRepository) findByIDLocked(recordID uint64) (domain.TelemetryRecord, bool) {
	pos, ok := r.positionByID[recordID]
	if !ok {
		return domain.TelemetryRecord{}, false
	}
	return r.records[pos], true
}

func removeID(ids []uint64, recordID uint64) []uint64 {
	out := ids[:0]
	for _, id := range ids {
		if id != recordID {
			out = append(out, id)
		}
	}
	return out
}

// sortRecords orders by (timestamp ASC, recordId ASC).
func sortRecords(records []domain.TelemetryRecord) {
	sort.Slice(records, func(i, j int) bool {
		if records[i].Packet.Timestamp != records[j].Packet.Timestamp {
			return records[i].Packet.Timestamp < records[j].Packet.Timestamp
		}
		return records[i].RecordID < records[j].RecordID
	})
}
