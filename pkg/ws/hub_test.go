package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func startHub(t *testing.T) (*Hub, string, context.CancelFunc) {
	t.Helper()
	hub := NewHub(zap.NewNop())
	hub.SetInitDataProvider(func() any {
		return map[string]any{"bays": []string{"bay-1", "bay-2"}}
	})

	ctx, cancel := context.WithCancel(context.Background())
	go hub.Run(ctx)

	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		client := NewClient(hub, conn)
		if !client.Register() {
			conn.Close()
			return
		}
		go client.ReadPump()
		go client.WritePump()
	}))
	t.Cleanup(func() {
		cancel()
		srv.Close()
	})
	return hub, "ws" + strings.TrimPrefix(srv.URL, "http"), cancel
}

func dial(t *testing.T, url string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readMessage(t *testing.T, conn *websocket.Conn) Message {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)

	var msg Message
	require.NoError(t, json.Unmarshal(data, &msg))
	return msg
}

func TestHub_InitThenBroadcast(t *testing.T) {
	hub, url, _ := startHub(t)
	conn := dial(t, url)

	init := readMessage(t, conn)
	assert.Equal(t, MsgTypeInit, init.Type)
	assert.Equal(t, map[string]any{"bays": []any{"bay-1", "bay-2"}}, init.Data)
	assert.Equal(t, 1, hub.ClientCount())

	hub.BroadcastBookingEvent(map[string]string{"reference": "GB-0000ABCD", "to": "confirmed"})

	ev := readMessage(t, conn)
	assert.Equal(t, MsgTypeBookingEvent, ev.Type)
	assert.Equal(t, map[string]any{"reference": "GB-0000ABCD", "to": "confirmed"}, ev.Data)
}

func TestHub_ClientDisconnectUnregisters(t *testing.T) {
	hub, url, _ := startHub(t)
	conn := dial(t, url)
	readMessage(t, conn)

	conn.Close()
	assert.Eventually(t, func() bool { return hub.ClientCount() == 0 }, 2*time.Second, 10*time.Millisecond)
}

func TestHub_StopClosesClients(t *testing.T) {
	hub, url, cancel := startHub(t)
	conn := dial(t, url)
	readMessage(t, conn)

	cancel()

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, _, err := conn.ReadMessage()
	assert.Error(t, err)
	assert.Eventually(t, func() bool { return hub.ClientCount() == 0 }, time.Second, 10*time.Millisecond)

	// 停止后新的注册立即失败
	assert.False(t, NewClient(hub, nil).Register())
}
