package coordinator

import (
	"context"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/Harshitk-cp/broadcastsync/apps/sync-server/internal/model"
)

// Transport is one established primary connection
type Transport interface {
	ReadMessage() ([]byte, error)
	WriteMessage(data []byte) error
	Close() error
}

// Target identifies who is dialing and where
type Target struct {
	URL      string
	ClientID string
	Role     model.Role
	Token    string
}

// Dialer opens transports
type Dialer interface {
	Dial(ctx context.Context, target Target) (Transport, error)
}

// WebSocketDialer dials the server's websocket endpoint
type WebSocketDialer struct {
	HandshakeTimeout time.Duration
	WriteWait        time.Duration
}

// Dial implements Dialer
func (d *WebSocketDialer) Dial(ctx context.Context, target Target) (Transport, error) {
	u, err := url.Parse(target.URL)
	if err != nil {
		return nil, fmt.Errorf("invalid server url: %w", err)
	}
	q := u.Query()
	if target.ClientID != "" {
		q.Set("clientId", target.ClientID)
	}
	q.Set("role", string(target.Role))
	if target.Token != "" {
		q.Set("token", target.Token)
	}
	u.RawQuery = q.Encode()

	dialer := websocket.Dialer{
		Proxy:            websocket.DefaultDialer.Proxy,
		HandshakeTimeout: d.HandshakeTimeout,
	}
	conn, _, err := dialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return nil, err
	}

	writeWait := d.WriteWait
	if writeWait <= 0 {
		writeWait = 10 * time.Second
	}
	return &wsTransport{conn: conn, writeWait: writeWait}, nil
}

type wsTransport struct {
	conn      *websocket.Conn
	writeMu   sync.Mutex
	writeWait time.Duration
	closeOnce sync.Once
}

func (t *wsTransport) ReadMessage() ([]byte, error) {
	_, data, err := t.conn.ReadMessage()
	return data, err
}

func (t *wsTransport) WriteMessage(data []byte) error {
	t.writeMu.Lock()
	defer t.writeMu.Unlock()
	t.conn.SetWriteDeadline(time.Now().Add(t.writeWait))
	return t.conn.WriteMessage(websocket.TextMessage, data)
}

func (t *wsTransport) Close() error {
	var err error
	t.closeOnce.Do(func() {
		t.writeMu.Lock()
		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
		t.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
		t.writeMu.Unlock()
		err = t.conn.Close()
	})
	return err
}
