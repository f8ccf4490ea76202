package client

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/bhardin04/livedemo/internal/domain"
)

const writeTimeout = 5 * time.Second

// WebSocketDialer dials gorilla WebSocket connections and classifies HTTP
// rejections of the upgrade request into domain errors.
type WebSocketDialer struct {
	Header           http.Header
	HandshakeTimeout time.Duration
}

func (d WebSocketDialer) Dial(ctx context.Context, url string) (Conn, error) {
	timeout := d.HandshakeTimeout
	if timeout <= 0 {
		timeout = DefaultDialTimeout
	}
	dialer := websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: timeout,
	}

	ws, resp, err := dialer.DialContext(ctx, url, d.Header)
	if err != nil {
		return nil, classifyDialError(err, resp)
	}
	return &wsConn{ws: ws}, nil
}

// classifyDialError maps the status of a rejected upgrade to the domain error
// a UI can explain. Other failures are returned unchanged.
func classifyDialError(err error, resp *http.Response) error {
	if resp == nil {
		return err
	}
	body := ""
	if resp.Body != nil {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		_ = resp.Body.Close()
		body = string(b)
	}

	switch resp.StatusCode {
	case http.StatusTooManyRequests:
		retryAfter := time.Duration(0)
		if secs, convErr := strconv.Atoi(resp.Header.Get("Retry-After")); convErr == nil {
			retryAfter = time.Duration(secs) * time.Second
		}
		return fmt.Errorf("dial rejected: %w", &domain.RateLimitError{RouteClass: "connection-open", RetryAfter: retryAfter})
	case http.StatusServiceUnavailable:
		switch {
		case strings.Contains(body, "per_session"):
			return fmt.Errorf("dial rejected: %w", domain.ErrPerSessionCapacityExceeded)
		case strings.Contains(body, "global"):
			return fmt.Errorf("dial rejected: %w", domain.ErrGlobalCapacityExceeded)
		default:
			return fmt.Errorf("dial rejected: %w", domain.ErrCapacityExceeded)
		}
	case http.StatusNotFound:
		return fmt.Errorf("dial rejected: %w", domain.ErrSessionNotFound)
	default:
		return fmt.Errorf("dial rejected with status %d: %w", resp.StatusCode, err)
	}
}

type wsConn struct {
	ws *websocket.Conn
}

func (c *wsConn) ReadMessage() ([]byte, error) {
	_, data, err := c.ws.ReadMessage()
	if err != nil {
		var ce *websocket.CloseError
		if errors.As(err, &ce) {
			return nil, &CloseError{Code: ce.Code, Text: ce.Text}
		}
		return nil, err
	}
	return data, nil
}

func (c *wsConn) WriteMessage(data []byte) error {
	if err := c.ws.SetWriteDeadline(time.Now().Add(writeTimeout)); err != nil {
		return err
	}
	return c.ws.WriteMessage(websocket.TextMessage, data)
}

func (c *wsConn) WriteClose(code int) error {
	msg := websocket.FormatCloseMessage(code, "")
	return c.ws.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
}

func (c *wsConn) Close() error {
	return c.ws.Close()
}
