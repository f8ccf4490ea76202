package websocket

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	gws "github.com/gorilla/websocket"
)

const (
	maxMessageSize  = 4096
	readBufferSize  = 1024
	writeBufferSize = 1024
)

// NewUpgrader builds the server upgrader. Compression stays off; frames are small JSON.
func NewUpgrader(checkOrigin func(r *http.Request) bool) *gws.Upgrader {
	return &gws.Upgrader{
		ReadBufferSize:  readBufferSize,
		WriteBufferSize: writeBufferSize,
		CheckOrigin:     checkOrigin,
	}
}

// Transport adapts a gorilla connection to the connection registry's
// transport. Writes are issued only by the connection's writer goroutine.
type Transport struct {
	ws *gws.Conn
}

func NewTransport(ws *gws.Conn) *Transport {
	return &Transport{ws: ws}
}

func (t *Transport) WriteText(data []byte, deadline time.Time) error {
	if err := t.ws.SetWriteDeadline(deadline); err != nil {
		return err
	}
	return t.ws.WriteMessage(gws.TextMessage, data)
}

func (t *Transport) WritePing(deadline time.Time) error {
	return t.ws.WriteControl(gws.PingMessage, nil, deadline)
}

func (t *Transport) WriteClose(code int, reason string, deadline time.Time) error {
	return t.ws.WriteControl(gws.CloseMessage, gws.FormatCloseMessage(code, reason), deadline)
}

func (t *Transport) Close() error {
	return t.ws.Close()
}

// ReadPump reads frames until the peer goes away or the transport is closed.
// Text frames go to onMessage, pong frames to onPong. It returns the error
// that ended the loop; a normal or going-away close from the peer yields nil.
func ReadPump(ctx context.Context, ws *gws.Conn, onMessage func(data []byte), onPong func()) error {
	ws.SetReadLimit(maxMessageSize)
	ws.SetPongHandler(func(string) error {
		if onPong != nil {
			onPong()
		}
		return nil
	})

	for {
		msgType, data, err := ws.ReadMessage()
		if err != nil {
			if gws.IsCloseError(err, gws.CloseNormalClosure, gws.CloseGoingAway) {
				return nil
			}
			var ce *gws.CloseError
			if errors.As(err, &ce) {
				slog.DebugContext(ctx, "Peer closed connection", "code", ce.Code, "text", ce.Text)
			}
			return err
		}
		if msgType != gws.TextMessage {
			continue
		}
		onMessage(data)
	}
}
