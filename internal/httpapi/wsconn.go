package httpapi

import (
	"context"
	"errors"
	"sync"
	"time"

	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"github.com/park285/cheese-live/internal/protocol"
)

const writeTimeout = 5 * time.Second

// wsConn adapts a websocket to session.Conn.
type wsConn struct {
	c *websocket.Conn

	mu      sync.Mutex
	readErr error
}

func (w *wsConn) Read(ctx context.Context) ([]byte, error) {
	typ, data, err := w.c.Read(ctx)
	if err != nil {
		w.mu.Lock()
		if w.readErr == nil {
			w.readErr = err
		}
		w.mu.Unlock()
		return nil, err
	}
	if typ != websocket.MessageText {
		// binary frames are not part of the protocol; hand over something the
		// decoder rejects so the session ignores it
		return []byte{}, nil
	}
	return data, nil
}

// Write never blocks longer than writeTimeout so a stalled client cannot
// hold up its session.
func (w *wsConn) Write(ctx context.Context, ev protocol.Event) error {
	wctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	if err := wsjson.Write(wctx, w.c, protocol.Wire(ev)); err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return errors.New("websocket write timeout")
		}
		return err
	}
	return nil
}

// closeStatus reports how the peer closed, or -1 when the read loop ended
// for another reason.
func (w *wsConn) closeStatus() websocket.StatusCode {
	w.mu.Lock()
	defer w.mu.Unlock()
	return websocket.CloseStatus(w.readErr)
}
