package realtime

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestShouldSend_AccountPinning(t *testing.T) {
	h := NewHub(slog.Default())
	client := &Client{sub: Subscription{AccountID: "1234567890"}}

	assert.True(t, h.shouldSend(client, &Event{Type: EventTransactionExecuted, AccountID: "1234567890"}))
	assert.False(t, h.shouldSend(client, &Event{Type: EventTransactionExecuted, AccountID: "9999999999"}))

	// No account pinned: receives nothing.
	anon := &Client{}
	assert.False(t, h.shouldSend(anon, &Event{Type: EventTransactionExecuted, AccountID: "1234567890"}))
}

func TestShouldSend_EventTypeFilter(t *testing.T) {
	h := NewHub(slog.Default())
	client := &Client{sub: Subscription{
		AccountID:  "1234567890",
		EventTypes: []EventType{EventTransferBlocked},
	}}

	assert.True(t, h.shouldSend(client, &Event{Type: EventTransferBlocked, AccountID: "1234567890"}))
	assert.False(t, h.shouldSend(client, &Event{Type: EventTransactionExecuted, AccountID: "1234567890"}))
}

func TestHub_DeliversToSubscribedClient(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	h := NewHub(slog.Default())
	go h.Run(ctx)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h.HandleWebSocket(w, r, "1234567890")
	}))
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()

	// Wait for registration before broadcasting.
	require.Eventually(t, func() bool {
		return h.Stats()["connectedClients"].(int) == 1
	}, time.Second, 10*time.Millisecond)

	h.Broadcast(&Event{
		Type:      EventConfirmationRequired,
		AccountID: "1234567890",
		Data:      map[string]any{"confirmationId": "conf_1"},
	})

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, msg, err := conn.ReadMessage()
	require.NoError(t, err)

	var got Event
	require.NoError(t, json.Unmarshal(msg, &got))
	assert.Equal(t, EventConfirmationRequired, got.Type)
	assert.Equal(t, "1234567890", got.AccountID)
}

func TestHub_OtherAccountDoesNotReceive(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	h := NewHub(slog.Default())
	go h.Run(ctx)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h.HandleWebSocket(w, r, "9999999999")
	}))
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.Eventually(t, func() bool {
		return h.Stats()["connectedClients"].(int) == 1
	}, time.Second, 10*time.Millisecond)

	h.Broadcast(&Event{Type: EventTransactionExecuted, AccountID: "1234567890"})

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(300*time.Millisecond)))
	_, _, err = conn.ReadMessage()
	assert.Error(t, err) // deadline hit, nothing delivered
}
