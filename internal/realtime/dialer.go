package realtime

import (
	"context"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
)

// WebsocketDialer is the production Dialer, backed by gorilla.
type WebsocketDialer struct{}

func (WebsocketDialer) Dial(ctx context.Context, url string, header http.Header) (Wire, error) {
	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, url, header)
	if err != nil {
		if resp != nil && resp.Body != nil {
			_ = resp.Body.Close()
		}
		return nil, err
	}
	return &wsWire{conn: conn}, nil
}

// wsWire serializes writes: the presence ticker and ad-hoc publishes run on
// different goroutines and gorilla permits one concurrent writer only.
type wsWire struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (w *wsWire) ReadMessage() ([]byte, error) {
	_, b, err := w.conn.ReadMessage()
	return b, err
}

func (w *wsWire) WriteJSON(v any) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.conn.WriteJSON(v)
}

func (w *wsWire) Close() error { return w.conn.Close() }
