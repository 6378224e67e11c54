package websocket

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
	"github.com/wfunc/coin-bank/internal/controller"
	"github.com/wfunc/coin-bank/internal/display"
)

type fakeSource struct {
	snap   controller.Snapshot
	update controller.Update
}

func (f *fakeSource) Snapshot() controller.Snapshot { return f.snap }
func (f *fakeSource) Frame() controller.Update      { return f.update }

func newFakeSource() *fakeSource {
	snap := controller.Snapshot{Total: 1234, Text: "12.34", Animation: "idle"}
	pixels := make([]display.Color, 4)
	pixels[1] = display.Color{R: 0x00, G: 0xC8, B: 0x50}
	return &fakeSource{
		snap:   snap,
		update: controller.Update{Snapshot: snap, Width: 2, Height: 2, Pixels: pixels},
	}
}

// 创建测试服务器并连接
func dialHub(t *testing.T, hub *Hub) *websocket.Conn {
	t.Helper()
	upgrader := websocket.Upgrader{CheckOrigin: func(r *http.Request) bool { return true }}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		NewClient(hub, conn).Serve()
	}))
	t.Cleanup(server.Close)

	wsURL := "ws" + strings.TrimPrefix(server.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
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

func startHub(t *testing.T, source Source) *Hub {
	t.Helper()
	hub := NewHub(source, nil)
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go hub.Run(ctx)
	return hub
}

func TestPixelsRoundTrip(t *testing.T) {
	pixels := []display.Color{{R: 1, G: 2, B: 3}, display.White, display.Black}
	encoded := EncodePixels(pixels)
	assert.Equal(t, "010203ffffff000000", encoded)

	decoded, err := DecodePixels(encoded)
	require.NoError(t, err)
	assert.Equal(t, pixels, decoded)

	_, err = DecodePixels("0102")
	assert.ErrorIs(t, err, ErrInvalidMessage)
}

func TestConnectSendsCurrentFrame(t *testing.T) {
	hub := startHub(t, newFakeSource())
	conn := dialHub(t, hub)

	assert.Equal(t, MessageTypeConnected, readMessage(t, conn).Type)

	msg := readMessage(t, conn)
	require.Equal(t, MessageTypeFrame, msg.Type)
	var payload FramePayload
	require.NoError(t, json.Unmarshal(msg.Data, &payload))
	assert.Equal(t, uint32(1234), payload.Total)
	assert.Equal(t, "12.34", payload.Text)
	assert.Equal(t, 2, payload.Width)
	assert.Equal(t, "00000000c850000000000000", payload.Pixels)
	assert.Equal(t, 1, hub.OnlineCount())
}

func TestPingAndStatusRequests(t *testing.T) {
	hub := startHub(t, newFakeSource())
	conn := dialHub(t, hub)
	readMessage(t, conn)
	readMessage(t, conn)

	require.NoError(t, conn.WriteJSON(Message{Type: MessageTypePing}))
	assert.Equal(t, MessageTypePong, readMessage(t, conn).Type)

	require.NoError(t, conn.WriteJSON(Message{Type: MessageTypeStatus}))
	msg := readMessage(t, conn)
	require.Equal(t, MessageTypeStatus, msg.Type)
	var snap controller.Snapshot
	require.NoError(t, json.Unmarshal(msg.Data, &snap))
	assert.Equal(t, uint32(1234), snap.Total)

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("not json")))
	assert.Equal(t, MessageTypeError, readMessage(t, conn).Type)

	require.NoError(t, conn.WriteJSON(Message{Type: "spin"}))
	assert.Equal(t, MessageTypeError, readMessage(t, conn).Type)
}

func TestForwardBroadcastsUpdates(t *testing.T) {
	hub := startHub(t, newFakeSource())
	conn := dialHub(t, hub)
	readMessage(t, conn)
	readMessage(t, conn)

	updates := make(chan controller.Update, 1)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go hub.Forward(ctx, updates)

	updates <- controller.Update{
		Snapshot: controller.Snapshot{Total: 5, Text: "0.05"},
		Width:    1,
		Height:   1,
		Pixels:   []display.Color{display.White},
	}

	msg := readMessage(t, conn)
	require.Equal(t, MessageTypeFrame, msg.Type)
	var payload FramePayload
	require.NoError(t, json.Unmarshal(msg.Data, &payload))
	assert.Equal(t, "0.05", payload.Text)
	assert.Equal(t, "ffffff", payload.Pixels)
}

func TestClientDisconnectUnregisters(t *testing.T) {
	hub := startHub(t, nil)
	conn := dialHub(t, hub)
	assert.Equal(t, MessageTypeConnected, readMessage(t, conn).Type)

	conn.Close()
	assert.Eventually(t, func() bool { return hub.OnlineCount() == 0 }, 2*time.Second, 10*time.Millisecond)
}

func TestHubStopClosesClients(t *testing.T) {
	hub := NewHub(nil, nil)
	ctx, cancel := context.WithCancel(context.Background())
	go hub.Run(ctx)

	conn := dialHub(t, hub)
	readMessage(t, conn)

	cancel()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, _, err := conn.ReadMessage()
	assert.Error(t, err)
	assert.Equal(t, 0, hub.OnlineCount())
}
