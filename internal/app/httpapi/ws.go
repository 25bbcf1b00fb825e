package httpapi

import (
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/WeatherVane-Labs/derivative_layer/internal/app/domain/journal"
	"github.com/WeatherVane-Labs/derivative_layer/internal/app/provider"
	"github.com/WeatherVane-Labs/derivative_layer/pkg/logger"
)

// Hub broadcasts contract journal events to websocket subscribers. It
// implements provider.Notifier.
type Hub struct {
	upgrader websocket.Upgrader
	log      *logger.Logger

	mu    sync.Mutex
	conns map[*websocket.Conn]bool
}

var _ provider.Notifier = (*Hub)(nil)

// NewHub creates an empty hub.
func NewHub(log *logger.Logger) *Hub {
	if log == nil {
		log = logger.NewDefault("ws-hub")
	}
	return &Hub{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		log:   log,
		conns: make(map[*websocket.Conn]bool),
	}
}

type wsEvent struct {
	Type          journal.EventType `json:"type"`
	ContractID    string            `json:"contract_id"`
	CorrelationID string            `json:"correlation_id,omitempty"`
	Result        uint64            `json:"result,omitempty"`
	Payout        uint64            `json:"payout,omitempty"`
	Detail        map[string]string `json:"detail,omitempty"`
	Time          time.Time         `json:"time"`
}

// Notify fans the event out to every live subscriber. Dead connections are
// dropped in passing.
func (h *Hub) Notify(evt journal.Event) {
	msg := wsEvent{
		Type:          evt.Type,
		ContractID:    evt.ContractID,
		CorrelationID: evt.CorrelationID,
		Result:        evt.Result,
		Payout:        evt.Payout,
		Detail:        evt.Detail,
		Time:          evt.CreatedAt,
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	for conn := range h.conns {
		if err := conn.WriteJSON(msg); err != nil {
			h.log.WithError(err).Warn("dropping websocket subscriber")
			conn.Close()
			delete(h.conns, conn)
		}
	}
}

// handle upgrades the request and registers the subscriber.
func (h *Hub) handle(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.WithError(err).Warn("websocket upgrade failed")
		return
	}

	h.mu.Lock()
	h.conns[conn] = true
	h.mu.Unlock()

	// Reader loop exists only to notice the peer going away.
	go func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				h.mu.Lock()
				if h.conns[conn] {
					conn.Close()
					delete(h.conns, conn)
				}
				h.mu.Unlock()
				return
			}
		}
	}()
}

// Close disconnects all subscribers.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for conn := range h.conns {
		conn.Close()
		delete(h.conns, conn)
	}
}
