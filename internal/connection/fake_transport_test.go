package connection

import (
	"errors"
	"sync"
	"time"
)

type closeFrame struct {
	code   int
	reason string
}

// fakeTransport records frames instead of writing them to a socket.
type fakeTransport struct {
	mu       sync.Mutex
	texts    [][]byte
	pings    int
	closes   []closeFrame
	closed   bool
	failText bool
	block    chan struct{}
}

func (t *fakeTransport) WriteText(data []byte, _ time.Time) error {
	if t.block != nil {
		<-t.block
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.failText || t.closed {
		return errors.New("broken pipe")
	}
	t.texts = append(t.texts, data)
	return nil
}

func (t *fakeTransport) WritePing(time.Time) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return errors.New("broken pipe")
	}
	t.pings++
	return nil
}

func (t *fakeTransport) WriteClose(code int, reason string, _ time.Time) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.closes = append(t.closes, closeFrame{code: code, reason: reason})
	return nil
}

func (t *fakeTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.closed = true
	return nil
}

func (t *fakeTransport) isClosed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.closed
}

func (t *fakeTransport) textCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.texts)
}

func (t *fakeTransport) pingCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.pings
}

func (t *fakeTransport) closeFrames() []closeFrame {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]closeFrame(nil), t.closes...)
}
