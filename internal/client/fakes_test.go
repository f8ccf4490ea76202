package client

import (
	"context"
	"errors"
	"sync"
)

var errConnClosed = errors.New("use of closed connection")

type readResult struct {
	data []byte
	err  error
}

// fakeConn is an in-memory transport. When autoPong is set every ping is
// answered immediately.
type fakeConn struct {
	inbox     chan readResult
	closed    chan struct{}
	closeOnce sync.Once
	autoPong  bool

	mu         sync.Mutex
	written    [][]byte
	closeCodes []int
	writeErr   error
}

func newFakeConn(autoPong bool) *fakeConn {
	return &fakeConn{inbox: make(chan readResult, 16), closed: make(chan struct{}), autoPong: autoPong}
}

func (c *fakeConn) ReadMessage() ([]byte, error) {
	select {
	case r := <-c.inbox:
		return r.data, r.err
	case <-c.closed:
		return nil, errConnClosed
	}
}

func (c *fakeConn) WriteMessage(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.writeErr != nil {
		return c.writeErr
	}
	c.written = append(c.written, data)
	if c.autoPong && string(data) == string(pingFrame) {
		c.inbox <- readResult{data: []byte(`{"type":"pong"}`)}
	}
	return nil
}

func (c *fakeConn) WriteClose(code int) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closeCodes = append(c.closeCodes, code)
	return nil
}

func (c *fakeConn) Close() error {
	c.closeOnce.Do(func() { close(c.closed) })
	return nil
}

func (c *fakeConn) deliver(data string) { c.inbox <- readResult{data: []byte(data)} }

func (c *fakeConn) closeFromPeer(code int) {
	c.inbox <- readResult{err: &CloseError{Code: code}}
}

func (c *fakeConn) writes() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, len(c.written))
	for i, w := range c.written {
		out[i] = string(w)
	}
	return out
}

func (c *fakeConn) sentCloseCodes() []int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]int(nil), c.closeCodes...)
}

// fakeDialer hands out scripted results in order; once the script is
// exhausted it repeats fallback.
type fakeDialer struct {
	mu       sync.Mutex
	script   []dialResult
	fallback dialResult
	dials    int
}

type dialResult struct {
	conn *fakeConn
	err  error
}

func (d *fakeDialer) Dial(ctx context.Context, _ string) (Conn, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.dials++
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r := d.fallback
	if len(d.script) > 0 {
		r = d.script[0]
		d.script = d.script[1:]
	}
	if r.err != nil {
		return nil, r.err
	}
	return r.conn, nil
}

func (d *fakeDialer) dialCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dials
}

// stateLog records transitions for assertions.
type stateLog struct {
	ch chan StateChange
}

func newStateLog() *stateLog { return &stateLog{ch: make(chan StateChange, 64)} }

func (l *stateLog) record(c StateChange) { l.ch <- c }
