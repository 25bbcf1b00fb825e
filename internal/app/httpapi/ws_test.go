package httpapi

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"github.com/WeatherVane-Labs/derivative_layer/internal/app/domain/journal"
)

func dialHub(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func TestHub_BroadcastsEvents(t *testing.T) {
	hub := NewHub(nil)
	defer hub.Close()

	srv := httptest.NewServer(http.HandlerFunc(hub.handle))
	defer srv.Close()

	first := dialHub(t, srv)
	second := dialHub(t, srv)

	// The upgrade completes before the handler returns, but registration is
	// asynchronous from the client's perspective; wait for both.
	require.Eventually(t, func() bool {
		hub.mu.Lock()
		defer hub.mu.Unlock()
		return len(hub.conns) == 2
	}, time.Second, 10*time.Millisecond)

	hub.Notify(journal.Event{
		ContractID: "c1",
		Type:       journal.EventFinalized,
		Payout:     150,
		CreatedAt:  time.Now().UTC(),
	})

	for _, conn := range []*websocket.Conn{first, second} {
		conn.SetReadDeadline(time.Now().Add(2 * time.Second))
		var got wsEvent
		require.NoError(t, conn.ReadJSON(&got))
		require.Equal(t, journal.EventFinalized, got.Type)
		require.Equal(t, "c1", got.ContractID)
		require.Equal(t, uint64(150), got.Payout)
	}
}

func TestHub_DropsDeadSubscribers(t *testing.T) {
	hub := NewHub(nil)
	defer hub.Close()

	srv := httptest.NewServer(http.HandlerFunc(hub.handle))
	defer srv.Close()

	conn := dialHub(t, srv)
	require.Eventually(t, func() bool {
		hub.mu.Lock()
		defer hub.mu.Unlock()
		return len(hub.conns) == 1
	}, time.Second, 10*time.Millisecond)

	conn.Close()
	require.Eventually(t, func() bool {
		hub.mu.Lock()
		defer hub.mu.Unlock()
		return len(hub.conns) == 0
	}, time.Second, 10*time.Millisecond)

	// Notifying with no subscribers is a no-op.
	hub.Notify(journal.Event{ContractID: "c1", Type: journal.EventFulfillment})
}
