// Package ws implements the real-time fan-out of ingest outcomes to
// WebSocket subscribers. Accepted packets stream on the telemetry channel,
// rejections on the alerts channel.
//
// The subscriber registry is serialized under one mutex and a broadcast
// holds that mutex for the entire fan-out, so no concurrent subscribe or
// close can observe a half-updated list. After the upgrade the server never
// reads from a subscriber socket; it only writes text frames and closes.
package ws

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/agrichain/telemetry-gateway/internal/domain"
	"github.com/agrichain/telemetry-gateway/internal/http/middleware"
)

// Channel names, also used as the Prometheus gauge label.
const (
	ChannelTelemetry = "telemetry"
	ChannelAlerts    = "alerts"
)

// writeWait bounds a single frame write so one stalled subscriber cannot
// pin the registry lock indefinitely; a timed-out write drops the socket
// like any other write failure.
const writeWait = 5 * time.Second

// TelemetryIngestedEvent is sent to telemetry subscribers for every
// accepted packet. TxHash is empty when the receipt is absent.
type TelemetryIngestedEvent struct {
	Type      string `json:"type"`
	DeviceID  string `json:"deviceId"`
	RecordID  uint64 `json:"recordId"`
	Timestamp uint64 `json:"timestamp"`
	Transport string `json:"transport"`
	TxHash    string `json:"txHash"`
}

// IngestRejectedEvent is sent to alert subscribers for every rejection.
type IngestRejectedEvent struct {
	Type     string `json:"type"`
	DeviceID string `json:"deviceId"`
	Message  string `json:"message"`
}

// Hub owns the subscriber registries for both channels.
type Hub struct {
	upgrader websocket.Upgrader

	mu        sync.Mutex
	telemetry map[*websocket.Conn]struct{}
	alerts    map[*websocket.Conn]struct{}
	closed    bool
}

// NewHub returns an empty hub. Origins are not restricted: subscribers are
// unauthenticated and the stream carries only data the query endpoints
// already expose.
func NewHub() *Hub {
	return &Hub{
		upgrader: websocket.Upgrader{
			CheckOrigin: func(*http.Request) bool { return true },
			Error: func(w http.ResponseWriter, _ *http.Request, status int, _ error) {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(status)
				_, _ = w.Write([]byte(`{"error":"invalid websocket upgrade"}`))
			},
		},
		telemetry: make(map[*websocket.Conn]struct{}),
		alerts:    make(map[*websocket.Conn]struct{}),
	}
}

// Subscribe returns the Gin handler performing the RFC 6455 upgrade for the
// given channel and registering the socket. Ownership of the socket moves to
// the hub; it is closed exactly once, on write failure or hub shutdown.
func (h *Hub) Subscribe(channel string) gin.HandlerFunc {
	return func(c *gin.Context) {
		conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			// Upgrader.Error already wrote the response.
			return
		}

		h.mu.Lock()
		if h.closed {
			h.mu.Unlock()
			_ = conn.Close()
			return
		}
		h.registryLocked(channel)[conn] = struct{}{}
		h.updateGaugeLocked(channel)
		h.mu.Unlock()
	}
}

// Publish fans the outcome of one ingest out to the relevant channel.
func (h *Hub) Publish(packet domain.TelemetryPacket, result domain.IngestResult) {
	if result.Accepted {
		txHash := ""
		if result.Receipt != nil {
			txHash = result.Receipt.TxHash
		}
		h.broadcast(ChannelTelemetry, TelemetryIngestedEvent{
			Type:      "telemetry.ingested",
			DeviceID:  packet.DeviceID,
			RecordID:  result.RecordID,
			Timestamp: packet.Timestamp,
			Transport: packet.Transport,
			TxHash:    txHash,
		})
		return
	}
	h.broadcast(ChannelAlerts, IngestRejectedEvent{
		Type:     "ingest.rejected",
		DeviceID: packet.DeviceID,
		Message:  result.Message,
	})
}

// Close shuts down every subscriber socket and rejects future subscribers.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.closed = true
	for conn := range h.telemetry {
		_ = conn.Close()
	}
	for conn := range h.alerts {
		_ = conn.Close()
	}
	h.telemetry = make(map[*websocket.Conn]struct{})
	h.alerts = make(map[*websocket.Conn]struct{})
	h.updateGaugeLocked(ChannelTelemetry)
	h.updateGaugeLocked(ChannelAlerts)
}

// SubscriberCount reports the current registry size for a channel.
func (h *Hub) SubscriberCount(channel string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.registryLocked(channel))
}

// broadcast writes one text frame to every subscriber of the channel. A
// failed write closes and drops that subscriber only.
func (h *Hub) broadcast(channel string, event any) {
	payload, err := json.Marshal(event)
	if err != nil {
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	registry := h.registryLocked(channel)
	for conn := range registry {
		_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
			_ = conn.Close()
			delete(registry, conn)
		}
	}
	h.updateGaugeLocked(channel)
}

func (h *Hub) registryLocked(channel string) map[*websocket.Conn]struct{} {
	if channel == ChannelAlerts {
		return h.alerts
	}
	return h.telemetry
}

func (h *Hub) updateGaugeLocked(channel string) {
	middleware.SetSubscriberCount(channel, len(h.registryLocked(channel)))
}
