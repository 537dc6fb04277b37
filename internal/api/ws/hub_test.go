package ws

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/your-org/facedoor/internal/models"
	"github.com/your-org/facedoor/pkg/dto"
)

func dial(t *testing.T, srv *httptest.Server, query string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws" + query
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readEvent(t *testing.T, conn *websocket.Conn) dto.WSEvent {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	var evt dto.WSEvent
	require.NoError(t, json.Unmarshal(data, &evt))
	return evt
}

func TestHub_BroadcastWithNameFilter(t *testing.T) {
	gin.SetMode(gin.TestMode)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	hub := NewHub()
	go hub.Run(ctx)

	r := gin.New()
	r.GET("/ws", hub.HandleWS)
	srv := httptest.NewServer(r)
	defer srv.Close()

	all := dial(t, srv, "")
	bobOnly := dial(t, srv, "?name=Bob")

	// Registration is asynchronous.
	time.Sleep(100 * time.Millisecond)

	alice, bob := "Alice", "Bob"
	require.NoError(t, hub.PublishAccessEvent(ctx, &models.AccessEvent{ID: uuid.New(), Name: &alice, Recognized: true}))
	require.NoError(t, hub.HandleAccessEvent(ctx, models.AccessEvent{ID: uuid.New(), Name: &bob}))

	first := readEvent(t, all)
	assert.Equal(t, "access_granted", first.Type)
	require.NotNil(t, first.Data.Name)
	assert.Equal(t, "Alice", *first.Data.Name)

	second := readEvent(t, all)
	assert.Equal(t, "access_denied", second.Type)

	onlyBob := readEvent(t, bobOnly)
	require.NotNil(t, onlyBob.Data.Name)
	assert.Equal(t, "Bob", *onlyBob.Data.Name)
}

func TestHub_StopsOnContextCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	hub := NewHub()

	done := make(chan struct{})
	go func() {
		hub.Run(ctx)
		close(done)
	}()
	cancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("hub did not stop")
	}

	// Broadcasting after shutdown must not block.
	hub.BroadcastEvent(dto.NewWSEvent(models.AccessEvent{ID: uuid.New()}))
}
