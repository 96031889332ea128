package handlers

import (
	"context"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/agrichain/telemetry-gateway/internal/codec"
	"github.com/agrichain/telemetry-gateway/internal/domain"
)

//
// Service contracts (context-aware, defined at the consumer)
//

// IngestService runs the ingest transaction and exposes the domain metrics.
// Implementations must be safe for concurrent use.
type IngestService interface {
	// Ingest validates, persists, and anchors one packet. It never fails
	// at the transport level: every outcome is an IngestResult.
	Ingest(ctx context.Context, packet domain.TelemetryPacket) domain.IngestResult
	// MetricsSnapshot returns the current ingest counters.
	MetricsSnapshot(ctx context.Context) domain.MetricsSnapshot
}

// TelemetryReader is the read-only repository view used by the query
// endpoints. Lookups never mutate.
type TelemetryReader interface {
	LatestByDevice(ctx context.Context, deviceID string) (*domain.TelemetryRecord, error)
	FindByTransaction(ctx context.Context, txHash string) (*domain.TelemetryRecord, error)
	FindByBatch(ctx context.Context, batchCode string) ([]domain.TelemetryRecord, error)
}

// Broadcaster fans one ingest outcome out to streaming subscribers.
type Broadcaster interface {
	Publish(packet domain.TelemetryPacket, result domain.IngestResult)
}

// Handlers groups the gateway's HTTP endpoints.
type Handlers struct {
	svc         IngestService
	reader      TelemetryReader
	broadcaster Broadcaster
}

// New constructs the handler set bound to its collaborators.
func New(svc IngestService, reader TelemetryReader, broadcaster Broadcaster) *Handlers {
	return &Handlers{svc: svc, reader: reader, broadcaster: broadcaster}
}

// Ingest handles POST /api/v1/ingest. The body is parsed by the packet
// codec; parse failures are 400s with the codec's stable message and touch
// no state. Otherwise the result of the ingest transaction is returned with
// 202 on acceptance and 400 on rejection, and the outcome is broadcast to
// the relevant WebSocket channel either way.
func (h *Handlers) Ingest(c *gin.Context) {
	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		// Oversized or truncated bodies (the 1 MiB cap) land here.
		fail(c, http.StatusBadRequest, "invalid HTTP request")
		return
	}

	packet, err := codec.ParsePacket(body)
	if err != nil {
		fail(c, http.StatusBadRequest, err.Error())
		return
	}

	result := h.svc.Ingest(c.Request.Context(), packet)
	h.broadcaster.Publish(packet, result)

	status := http.StatusBadRequest
	if result.Accepted {
		status = http.StatusAccepted
	}
	c.JSON(status, result)
}

// MetricsOverview handles GET /api/v1/metrics/overview.
func (h *Handlers) MetricsOverview(c *gin.Context) {
	c.JSON(http.StatusOK, h.svc.MetricsSnapshot(c.Request.Context()))
}
