package broadcast

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/kjannette/stockpulse-backend/internal/models"
)

func dial(t *testing.T, srv *httptest.Server, path string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + path
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial %s: %v", path, err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestServeWS_EndToEnd(t *testing.T) {
	m := NewManager(zerolog.Nop())
	mux := http.NewServeMux()
	mux.HandleFunc("/ws/stocks", func(w http.ResponseWriter, r *http.Request) {
		m.ServeWS(w, r, "")
	})
	mux.HandleFunc("/ws/stocks/{symbol}", func(w http.ResponseWriter, r *http.Request) {
		m.ServeWS(w, r, r.PathValue("symbol"))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	symbolConn := dial(t, srv, "/ws/stocks/AAPL")
	globalConn := dial(t, srv, "/ws/stocks")
	waitFor(t, "two subscribers", func() bool { return m.GlobalCount() == 2 })

	if m.SubscriberCount("AAPL") != 1 {
		t.Fatalf("expected 1 AAPL subscriber, got %d", m.SubscriberCount("AAPL"))
	}

	// Inbound messages are accepted and ignored.
	if err := symbolConn.WriteMessage(websocket.TextMessage, []byte(`{"action":"hello"}`)); err != nil {
		t.Fatalf("client write: %v", err)
	}

	ctx := context.Background()
	if n := m.BroadcastToSymbol(ctx, "AAPL", update("AAPL")); n != 1 {
		t.Fatalf("symbol broadcast delivered %d", n)
	}
	if n := m.BroadcastToAll(ctx, update("AAPL")); n != 2 {
		t.Fatalf("global broadcast delivered %d", n)
	}

	for _, c := range []*websocket.Conn{symbolConn, symbolConn, globalConn} {
		c.SetReadDeadline(time.Now().Add(2 * time.Second))
		_, raw, err := c.ReadMessage()
		if err != nil {
			t.Fatalf("client read: %v", err)
		}
		var u models.PriceUpdate
		if err := json.Unmarshal(raw, &u); err != nil || u.Symbol != "AAPL" {
			t.Fatalf("bad update %s: %v", raw, err)
		}
	}

	symbolConn.Close()
	waitFor(t, "symbol subscriber cleanup", func() bool { return m.SubscriberCount("AAPL") == 0 })
	if m.GlobalCount() != 1 {
		t.Fatalf("expected global subscriber to remain, got %d", m.GlobalCount())
	}

	m.CloseAll()
	globalConn.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, _, err := globalConn.ReadMessage(); !websocket.IsCloseError(err, websocket.CloseNormalClosure) {
		t.Fatalf("expected normal close frame, got %v", err)
	}
}

func TestWSSubscriber_SendAfterClose(t *testing.T) {
	m := NewManager(zerolog.Nop())
	subs := make(chan *WSSubscriber, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		sub := NewWSSubscriber(conn)
		subs <- sub
		sub.Serve(r.Context())
	}))
	defer srv.Close()

	dial(t, srv, "/")
	sub := <-subs
	m.Connect(sub, "TSLA")

	if err := sub.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if err := sub.Close(); err != nil {
		t.Fatalf("second close should be a no-op: %v", err)
	}
	if err := sub.Send(context.Background(), []byte("x")); err == nil {
		t.Fatal("send after close should fail")
	}

	if n := m.BroadcastToSymbol(context.Background(), "TSLA", update("TSLA")); n != 0 {
		t.Fatalf("closed subscriber should not count as delivered, got %d", n)
	}
	if m.GlobalCount() != 0 || m.SubscriberCount("TSLA") != 0 {
		t.Fatal("closed subscriber should be cleaned up by the broadcast")
	}
	select {
	case <-sub.Done():
	default:
		t.Fatal("Done should be closed")
	}
}
