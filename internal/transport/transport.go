// Package transport provides the byte sources message streams read from.
//
// Ownership boundary:
// - the Source contract: exact-size reads with a timeout, push-back, drain
// - an in-memory Pipe fed by tests and local producers
// - a buffered Conn over net.Conn
package transport

import (
	"errors"
	"sync"
	"time"
)

var (
	ErrTimeout = errors.New("transport: read timed out")
	ErrClosed  = errors.New("transport: closed")
)

// Source is a buffered byte stream.
type Source interface {
	// Read returns exactly n bytes. On timeout nothing is consumed.
	Read(n int, timeout time.Duration) ([]byte, error)
	// ReturnData pushes data back in front of the stream.
	ReturnData(data []byte)
	// Empty discards everything buffered.
	Empty()
}

// Pipe is an in-memory Source fed with Feed. Safe for concurrent use.
type Pipe struct {
	mu     sync.Mutex
	buf    []byte
	closed bool
	notify chan struct{}
}

func NewPipe() *Pipe {
	return &Pipe{notify: make(chan struct{}, 1)}
}

// Feed appends data and wakes a waiting reader.
func (p *Pipe) Feed(data []byte) {
	p.mu.Lock()
	p.buf = append(p.buf, data...)
	p.mu.Unlock()
	p.signal()
}

func (p *Pipe) Close() {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()
	p.signal()
}

func (p *Pipe) signal() {
	select {
	case p.notify <- struct{}{}:
	default:
	}
}

// Buffered is the number of bytes waiting to be read.
func (p *Pipe) Buffered() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.buf)
}

func (p *Pipe) Read(n int, timeout time.Duration) ([]byte, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	for {
		p.mu.Lock()
		if len(p.buf) >= n {
			out := make([]byte, n)
			copy(out, p.buf)
			p.buf = p.buf[n:]
			p.mu.Unlock()
			return out, nil
		}
		closed := p.closed
		p.mu.Unlock()
		if closed {
			return nil, ErrClosed
		}
		select {
		case <-p.notify:
		case <-timer.C:
			return nil, ErrTimeout
		}
	}
}

func (p *Pipe) ReturnData(data []byte) {
	if len(data) == 0 {
		return
	}
	p.mu.Lock()
	p.buf = append(append([]byte{}, data...), p.buf...)
	p.mu.Unlock()
	p.signal()
}

func (p *Pipe) Empty() {
	p.mu.Lock()
	p.buf = nil
	p.mu.Unlock()
}
