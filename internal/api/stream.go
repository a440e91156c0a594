package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/opensource-finance/shrike/internal/domain"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // Allow all for local dashboards
	},
}

// StreamEvent is the frame pushed to websocket clients. Payload carries the
// bus message body verbatim.
type StreamEvent struct {
	Topic     string          `json:"topic"`
	TenantID  string          `json:"tenant_id"`
	Timestamp time.Time       `json:"timestamp"`
	Payload   json.RawMessage `json:"payload"`
}

type tenantFrame struct {
	tenantID string
	data     []byte
}

// Hub maintains active websocket clients per tenant and fans bus events out
// to them. Bus subscriptions are created lazily when the first client for a
// tenant connects, so idle tenants cost nothing.
type Hub struct {
	bus       domain.EventBus
	broadcast chan tenantFrame

	mutex   sync.Mutex
	clients map[string]map[*websocket.Conn]bool
	subs    map[string][]domain.Subscription
}

// NewHub creates a hub wired to the given event bus.
func NewHub(bus domain.EventBus) *Hub {
	return &Hub{
		bus:       bus,
		broadcast: make(chan tenantFrame, 256),
		clients:   make(map[string]map[*websocket.Conn]bool),
		subs:      make(map[string][]domain.Subscription),
	}
}

// Run fans frames out to the connected clients of the frame's tenant.
// It exits when the broadcast channel is closed by Stop.
func (h *Hub) Run() {
	for frame := range h.broadcast {
		h.mutex.Lock()
		for client := range h.clients[frame.tenantID] {
			// Write deadline prevents a blocked client from hanging the hub
			_ = client.SetWriteDeadline(time.Now().Add(5 * time.Second))
			if err := client.WriteMessage(websocket.TextMessage, frame.data); err != nil {
				slog.Warn("websocket write failed", "tenant_id", frame.tenantID, "error", err)
				client.Close()
				delete(h.clients[frame.tenantID], client)
			}
		}
		h.mutex.Unlock()
	}
}

// Stop closes all client connections and bus subscriptions.
func (h *Hub) Stop() {
	h.mutex.Lock()
	defer h.mutex.Unlock()

	for tenantID, conns := range h.clients {
		for conn := range conns {
			conn.Close()
		}
		delete(h.clients, tenantID)
	}
	for tenantID, subs := range h.subs {
		for _, sub := range subs {
			if err := sub.Unsubscribe(); err != nil {
				slog.Warn("failed to unsubscribe stream", "tenant_id", tenantID, "error", err)
			}
		}
		delete(h.subs, tenantID)
	}
	close(h.broadcast)
}

// HandleStream upgrades the request to a websocket and registers the client
// under its tenant.
func (h *Hub) HandleStream(w http.ResponseWriter, r *http.Request) {
	tenantID := GetTenantID(r.Context())

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Error("websocket upgrade failed", "tenant_id", tenantID, "error", err)
		return
	}

	h.mutex.Lock()
	if h.clients[tenantID] == nil {
		h.clients[tenantID] = make(map[*websocket.Conn]bool)
		if err := h.subscribeTenant(tenantID); err != nil {
			h.mutex.Unlock()
			slog.Error("stream subscription failed", "tenant_id", tenantID, "error", err)
			conn.Close()
			return
		}
	}
	h.clients[tenantID][conn] = true
	total := len(h.clients[tenantID])
	h.mutex.Unlock()

	slog.Info("stream client connected", "tenant_id", tenantID, "clients", total)

	// We only push down; the read loop exists to notice disconnects.
	go func() {
		defer func() {
			h.mutex.Lock()
			delete(h.clients[tenantID], conn)
			remaining := len(h.clients[tenantID])
			h.mutex.Unlock()
			conn.Close()
			slog.Info("stream client disconnected", "tenant_id", tenantID, "clients", remaining)
		}()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
					slog.Warn("websocket read failed", "tenant_id", tenantID, "error", err)
				}
				break
			}
		}
	}()
}

// subscribeTenant wires the hub to the tenant's completion and alert topics.
// Caller holds h.mutex.
func (h *Hub) subscribeTenant(tenantID string) error {
	topics := []string{domain.TopicAnalysisCompleted, domain.TopicAlertRaised}
	var subs []domain.Subscription
	for _, topic := range topics {
		sub, err := h.bus.Subscribe(context.Background(), tenantID, topic, h.forward)
		if err != nil {
			for _, s := range subs {
				_ = s.Unsubscribe()
			}
			return err
		}
		subs = append(subs, sub)
	}
	h.subs[tenantID] = subs
	return nil
}

func (h *Hub) forward(ctx context.Context, msg *domain.Message) error {
	event := StreamEvent{
		Topic:     msg.Topic,
		TenantID:  msg.TenantID,
		Timestamp: time.Unix(0, msg.Timestamp).UTC(),
		Payload:   msg.Payload,
	}
	data, err := json.Marshal(event)
	if err != nil {
		return err
	}

	select {
	case h.broadcast <- tenantFrame{tenantID: msg.TenantID, data: data}:
	default:
		slog.Warn("stream broadcast buffer full, dropping event", "tenant_id", msg.TenantID, "topic", msg.Topic)
	}
	return nil
}

// ClientCount reports connected clients for a tenant.
func (h *Hub) ClientCount(tenantID string) int {
	h.mutex.Lock()
	defer h.mutex.Unlock()
	return len(h.clients[tenantID])
}
