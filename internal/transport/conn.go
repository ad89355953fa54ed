package transport

import (
	"context"
	"errors"
	"io"
	"net"
	"os"
	"sync"
	"time"
)

const readChunk = 4096

// drainTimeout bounds each socket read made by Empty.
const drainTimeout = 5 * time.Millisecond

// Conn buffers a net.Conn so reads can be sized exactly and pushed back.
type Conn struct {
	conn net.Conn

	mu  sync.Mutex
	buf []byte
}

func NewConn(c net.Conn) *Conn {
	return &Conn{conn: c}
}

// Dial connects with ctx bounding the connect.
func Dial(ctx context.Context, network, addr string) (*Conn, error) {
	var d net.Dialer
	c, err := d.DialContext(ctx, network, addr)
	if err != nil {
		return nil, err
	}
	return NewConn(c), nil
}

func (c *Conn) LocalAddr() net.Addr  { return c.conn.LocalAddr() }
func (c *Conn) RemoteAddr() net.Addr { return c.conn.RemoteAddr() }

func (c *Conn) Send(data []byte) error {
	_, err := c.conn.Write(data)
	if errors.Is(err, net.ErrClosed) {
		return ErrClosed
	}
	return err
}

// Write makes Conn an io.Writer for frame.WriteFrame.
func (c *Conn) Write(p []byte) (int, error) {
	if err := c.Send(p); err != nil {
		return 0, err
	}
	return len(p), nil
}

func (c *Conn) Close() error { return c.conn.Close() }

func (c *Conn) Read(n int, timeout time.Duration) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.fill(n, time.Now().Add(timeout)); err != nil {
		return nil, err
	}
	out := make([]byte, n)
	copy(out, c.buf)
	c.buf = c.buf[n:]
	return out, nil
}

// fill reads until n bytes are buffered; partial data stays buffered.
func (c *Conn) fill(n int, deadline time.Time) error {
	chunk := make([]byte, readChunk)
	for len(c.buf) < n {
		if err := c.conn.SetReadDeadline(deadline); err != nil {
			return err
		}
		got, err := c.conn.Read(chunk)
		c.buf = append(c.buf, chunk[:got]...)
		if err != nil {
			if len(c.buf) >= n {
				return nil
			}
			return mapReadError(err)
		}
	}
	return nil
}

func mapReadError(err error) error {
	var ne net.Error
	switch {
	case errors.Is(err, os.ErrDeadlineExceeded), errors.As(err, &ne) && ne.Timeout():
		return ErrTimeout
	case errors.Is(err, io.EOF), errors.Is(err, net.ErrClosed), errors.Is(err, io.ErrClosedPipe):
		return ErrClosed
	}
	return err
}

func (c *Conn) ReturnData(data []byte) {
	if len(data) == 0 {
		return
	}
	c.mu.Lock()
	c.buf = append(append([]byte{}, data...), c.buf...)
	c.mu.Unlock()
}

// Empty drops buffered bytes and whatever the socket has ready.
func (c *Conn) Empty() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.buf = nil
	chunk := make([]byte, readChunk)
	for {
		if err := c.conn.SetReadDeadline(time.Now().Add(drainTimeout)); err != nil {
			return
		}
		if _, err := c.conn.Read(chunk); err != nil {
			return
		}
	}
}
