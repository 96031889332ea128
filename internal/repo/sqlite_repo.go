package repo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"gorm.io/gorm"

	"github.com/agrichain/telemetry-gateway/internal/domain"
)

// telemetryRow is the GORM mapping of one stored record. Receipt columns
// are nullable and set by AttachReceipt; batch_code is NULL when the packet
// carried no batch code.
type telemetryRow struct {
	RecordID      uint64    `gorm:"column:record_id;primaryKey;autoIncrement"`
	DeviceID      string    `gorm:"column:device_id;type:varchar(64);not null;index:idx_telemetry_device_time,priority:1"`
	Timestamp     uint64    `gorm:"column:timestamp;not null;index:idx_telemetry_device_time,priority:2,sort:desc"`
	TelemetryJSON string    `gorm:"column:telemetry_json;type:text;not null"`
	HashHex       string    `gorm:"column:hash_hex;type:char(64);not null"`
	Signature     string    `gorm:"column:signature;type:text;not null"`
	PubKeyID      string    `gorm:"column:pub_key_id;type:varchar(128);not null"`
	Transport     string    `gorm:"column:transport;type:varchar(32);not null"`
	BatchCode     *string   `gorm:"column:batch_code;type:varchar(64);index:idx_telemetry_batch"`
	TxHash        *string   `gorm:"column:tx_hash;type:varchar(128);uniqueIndex:idx_telemetry_tx_hash"`
	BlockHeight   *uint64   `gorm:"column:block_height"`
	SubmittedAt   *string   `gorm:"column:submitted_at"`
	CreatedAt     time.Time `gorm:"column:created_at"`
}

// TableName returns the database table name for telemetry records.
func (telemetryRow) TableName() string { return "telemetry_records" }

func (r telemetryRow) toRecord() domain.TelemetryRecord {
	rec := domain.TelemetryRecord{
		RecordID: r.RecordID,
		Packet: domain.TelemetryPacket{
			DeviceID:      r.DeviceID,
			Timestamp:     r.Timestamp,
			TelemetryJSON: json.RawMessage(r.TelemetryJSON),
			HashHex:       r.HashHex,
			Signature:     r.Signature,
			PubKeyID:      r.PubKeyID,
			Transport:     r.Transport,
		},
	}
	if r.BatchCode != nil {
		rec.Packet.BatchCode = *r.BatchCode
	}
	if r.TxHash != nil {
		receipt := domain.BlockchainReceipt{TxHash: *r.TxHash}
		if r.BlockHeight != nil {
			receipt.BlockHeight = *r.BlockHeight
		}
		if r.SubmittedAt != nil {
			receipt.SubmittedAt = *r.SubmittedAt
		}
		rec.Receipt = &receipt
	}
	return rec
}

// SQLiteTelemetryRepository is the durable repository. All writes funnel
// through a single mutex per instance; record ids come from the SQLite
// AUTOINCREMENT sequence and are never reused.
type SQLiteTelemetryRepository struct {
	db *gorm.DB
	mu sync.Mutex
}

// NewSQLiteTelemetryRepository wraps an opened, migrated GORM handle.
func NewSQLiteTelemetryRepository(db *gorm.DB) *SQLiteTelemetryRepository {
	return &SQLiteTelemetryRepository{db: db}
}

// Save stores an owned copy of the packet and returns the allocated id.
func (r *SQLiteTelemetryRepository) Save(ctx context.Context, packet domain.TelemetryPacket) (uint64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	row := telemetryRow{
		DeviceID:      packet.DeviceID,
		Timestamp:     packet.Timestamp,
		TelemetryJSON: string(packet.TelemetryJSON),
		HashHex:       packet.HashHex,
		Signature:     packet.Signature,
		PubKeyID:      packet.PubKeyID,
		Transport:     packet.Transport,
		CreatedAt:     time.Now().UTC(),
	}
	if packet.BatchCode != "" {
		row.BatchCode = &packet.BatchCode
	}

	if err := r.db.WithContext(ctx).Create(&row).Error; err != nil {
		return 0, fmt.Errorf("save telemetry: %w", err)
	}
	return row.RecordID, nil
}

// AttachReceipt sets the receipt columns of an existing record and indexes
// it by txHash (the unique index enforces one record per transaction).
// Returns false when no record has that id.
func (r *SQLiteTelemetryRepository) AttachReceipt(ctx context.Context, recordID uint64, receipt domain.BlockchainReceipt) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	res := r.db.WithContext(ctx).Model(&telemetryRow{}).
		Where("record_id = ?", recordID).
		Updates(map[string]any{
			"tx_hash":      receipt.TxHash,
			"block_height": receipt.BlockHeight,
			"submitted_at": receipt.SubmittedAt,
		})
	if res.Error != nil {
		return false, fmt.Errorf("attach receipt: %w", res.Error)
	}
	return res.RowsAffected > 0, nil
}

// Delete removes a record and, through row deletion, every index entry
// (device, batch, txHash). Returns true iff a record was removed. Used by
// the ingest rollback path only.
func (r *SQLiteTelemetryRepository) Delete(ctx context.Context, recordID uint64) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	res := r.db.WithContext(ctx).Where("record_id = ?", recordID).Delete(&telemetryRow{})
	if res.Error != nil {
		return false, fmt.Errorf("delete record: %w", res.Error)
	}
	return res.RowsAffected > 0, nil
}

// LatestByDevice returns the record with the highest (timestamp, recordId)
// pair for the device, or nil when the device has no records.
func (r *SQLiteTelemetryRepository) LatestByDevice(ctx context.Context, deviceID string) (*domain.TelemetryRecord, error) {
	var row telemetryRow
	err := r.db.WithContext(ctx).
		Where("device_id = ?", deviceID).
		Order("timestamp DESC, record_id DESC").
		First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("latest by device: %w", err)
	}
	rec := row.toRecord()
	return &rec, nil
}

// FindByTransaction returns the unique record anchored by txHash, or nil.
func (r *SQLiteTelemetryRepository) FindByTransaction(ctx context.Context, txHash string) (*domain.TelemetryRecord, error) {
	var row telemetryRow
	err := r.db.WithContext(ctx).Where("tx_hash = ?", txHash).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find by transaction: %w", err)
	}
	rec := row.toRecord()
	return &rec, nil
}

// FindByBatch returns every record of a non-empty batch code ordered by
// (timestamp ASC, recordId ASC). An empty batch code yields no records.
func (r *SQLiteTelemetryRepository) FindByBatch(ctx context.Context, batchCode string) ([]domain.TelemetryRecord, error) {
	if batchCode == "" {
		return []domain.TelemetryRecord{}, nil
	}

	var rows []telemetryRow
	err := r.db.WithContext(ctx).
		Where("batch_code = ?", batchCode).
		Order("timestamp ASC, record_id ASC").
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("find by batch: %w", err)
	}

	records := make([]domain.TelemetryRecord, 0, len(rows))
	for _, row := range rows {
		records = append(records, row.toRecord())
	}
	return records, nil
}

// Size returns the current record count.
func (r *SQLiteTelemetryRepository) Size(ctx context.Context) (uint64, error) {
	var count int64
	if err := r.db.WithContext(ctx).Model(&telemetryRow{}).Count(&count).Error; err != nil {
		return 0, fmt.Errorf("count records: %w", err)
	}
	return uint64(count), nil
}
