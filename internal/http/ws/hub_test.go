package ws

import (
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/agrichain/telemetry-gateway/internal/domain"
)

func hubServer(t *testing.T) (*Hub, *httptest.Server) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	hub := NewHub()
	r := gin.New()
	r.GET("/ws/telemetry", hub.Subscribe(ChannelTelemetry))
	r.GET("/ws/alerts", hub.Subscribe(ChannelAlerts))
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	t.Cleanup(hub.Close)
	return hub, srv
}

func dial(t *testing.T, srv *httptest.Server, path string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http")+path, nil)
	if err != nil {
		t.Fatalf("dial %s: %v", path, err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func waitCount(t *testing.T, hub *Hub, channel string, want int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for hub.SubscriberCount(channel) != want {
		if time.Now().After(deadline) {
			t.Fatalf("subscriber count for %s never reached %d", channel, want)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestHub_PublishRoutesByOutcome(t *testing.T) {
	hub, srv := hubServer(t)
	teleConn := dial(t, srv, "/ws/telemetry")
	alertConn := dial(t, srv, "/ws/alerts")
	waitCount(t, hub, ChannelTelemetry, 1)
	waitCount(t, hub, ChannelAlerts, 1)

	packet := domain.TelemetryPacket{DeviceID: "dev-1", Timestamp: 77, Transport: "lora"}

	hub.Publish(packet, domain.IngestResult{
		Accepted: true,
		RecordID: 4,
		Receipt:  &domain.BlockchainReceipt{TxHash: "0xaa"},
	})
	_ = teleConn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, payload, err := teleConn.ReadMessage()
	if err != nil {
		t.Fatalf("read telemetry frame: %v", err)
	}
	var ingested TelemetryIngestedEvent
	if err := json.Unmarshal(payload, &ingested); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if ingested.Type != "telemetry.ingested" || ingested.RecordID != 4 ||
		ingested.Transport != "lora" || ingested.TxHash != "0xaa" {
		t.Fatalf("event = %+v", ingested)
	}

	hub.Publish(packet, domain.IngestResult{Accepted: false, Message: "signature verification failed"})
	_ = alertConn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, payload, err = alertConn.ReadMessage()
	if err != nil {
		t.Fatalf("read alert frame: %v", err)
	}
	var rejected IngestRejectedEvent
	if err := json.Unmarshal(payload, &rejected); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if rejected.Type != "ingest.rejected" || rejected.Message != "signature verification failed" {
		t.Fatalf("event = %+v", rejected)
	}
}

func TestHub_AcceptedWithoutReceiptHasEmptyTxHash(t *testing.T) {
	hub, srv := hubServer(t)
	conn := dial(t, srv, "/ws/telemetry")
	waitCount(t, hub, ChannelTelemetry, 1)

	hub.Publish(domain.TelemetryPacket{DeviceID: "d"}, domain.IngestResult{Accepted: true, RecordID: 1})

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, payload, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if !strings.Contains(string(payload), `"txHash":""`) {
		t.Fatalf("payload = %s", payload)
	}
}

func TestHub_CloseDropsEverything(t *testing.T) {
	hub, srv := hubServer(t)
	dial(t, srv, "/ws/telemetry")
	dial(t, srv, "/ws/alerts")
	waitCount(t, hub, ChannelTelemetry, 1)
	waitCount(t, hub, ChannelAlerts, 1)

	hub.Close()
	if hub.SubscriberCount(ChannelTelemetry) != 0 || hub.SubscriberCount(ChannelAlerts) != 0 {
		t.Fatal("registries not emptied on close")
	}

	// publishing into a closed hub must not panic
	hub.Publish(domain.TelemetryPacket{DeviceID: "d"}, domain.IngestResult{Accepted: true})
}

func TestHub_BroadcastWithoutSubscribersIsNoop(t *testing.T) {
	hub := NewHub()
	hub.Publish(domain.TelemetryPacket{DeviceID: "d"}, domain.IngestResult{Accepted: false, Message: "x"})
}
