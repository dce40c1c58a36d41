package ws

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gorilla/websocket"
	"github.com/puzpuzpuz/xsync/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/yieldmarket/internal/domain"
)

func dial(t *testing.T, srv *httptest.Server, query string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws" + query
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func read(t *testing.T, conn *websocket.Conn) Message {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	var msg Message
	require.NoError(t, json.Unmarshal(data, &msg))
	return msg
}

func TestHubRoutesByTopic(t *testing.T) {
	hub := NewHub(Config{Mode: "api"}, slog.Default())
	srv := httptest.NewServer(httpHandler(hub))
	defer srv.Close()

	mkt := domain.MarketTopic(common.HexToAddress("0xabc"))
	conn := dial(t, srv, "?topics="+mkt)
	assert.Equal(t, "hello", read(t, conn).Type)

	require.Eventually(t, func() bool { return hub.ClientCount() == 1 }, time.Second, 10*time.Millisecond)

	actor := common.HexToAddress("0x1")
	require.NoError(t, hub.Consume(context.Background(), []domain.Event{
		domain.NewEvent(domain.EventForgeAdded, domain.TopicRegistry, actor, 1, 1),
		domain.NewEvent(domain.EventSwap, mkt, actor, 2, 2),
	}))

	msg := read(t, conn)
	assert.Equal(t, "event", msg.Type)
	assert.Equal(t, mkt, msg.Topic)
	var ev domain.Event
	require.NoError(t, json.Unmarshal(msg.Payload, &ev))
	assert.Equal(t, domain.EventSwap, ev.Type)
}

func TestClientWildcard(t *testing.T) {
	c := &client{topics: xsync.NewMap[string, struct{}]()}
	c.apply(subscribeMsg{Action: "subscribe", Topics: []string{"forge:*", domain.TopicRegistry}})

	assert.True(t, c.subscribed("forge:aave"))
	assert.True(t, c.subscribed(domain.TopicRegistry))
	assert.False(t, c.subscribed("market:0x1"))

	c.apply(subscribeMsg{Action: "unsubscribe", Topics: []string{"forge:*"}})
	assert.False(t, c.subscribed("forge:aave"))
}

func TestSplitTopics(t *testing.T) {
	assert.Equal(t, []string{"a", "b"}, splitTopics(" a, ,b "))
	assert.Nil(t, splitTopics(""))
}

func httpHandler(h *Hub) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /ws", h.HandleWS)
	return mux
}
