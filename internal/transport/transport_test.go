package transport

import (
	"errors"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPipeReadExactAndReturnData(t *testing.T) {
	p := NewPipe()
	p.Feed([]byte{1, 2, 3, 4})

	got, err := p.Read(3, 10*time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, []byte{1, 2, 3}, got)

	p.ReturnData([]byte{2, 3})
	got, err = p.Read(3, 10*time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, []byte{2, 3, 4}, got)
}

func TestPipeTimeoutConsumesNothing(t *testing.T) {
	p := NewPipe()
	p.Feed([]byte{1})
	start := time.Now()
	_, err := p.Read(2, 50*time.Millisecond)
	if !errors.Is(err, ErrTimeout) {
		t.Fatalf("expected ErrTimeout, got %v", err)
	}
	assert.GreaterOrEqual(t, time.Since(start), 40*time.Millisecond)
	assert.Equal(t, 1, p.Buffered())
}

func TestPipeWakesOnFeed(t *testing.T) {
	p := NewPipe()
	go func() {
		time.Sleep(10 * time.Millisecond)
		p.Feed([]byte{9, 9})
	}()
	got, err := p.Read(2, time.Second)
	require.NoError(t, err)
	assert.Equal(t, []byte{9, 9}, got)
}

func TestPipeEmptyAndClose(t *testing.T) {
	p := NewPipe()
	p.Feed([]byte{1, 2})
	p.Empty()
	assert.Equal(t, 0, p.Buffered())
	p.Close()
	_, err := p.Read(1, time.Second)
	assert.True(t, errors.Is(err, ErrClosed))
}

func TestConnBuffersPartialReads(t *testing.T) {
	a, b := net.Pipe()
	defer a.Close()
	defer b.Close()
	c := NewConn(a)

	go func() {
		_, _ = b.Write([]byte{0xff, 0x00})
		_, _ = b.Write([]byte{0x04, 0xca, 0xfe})
	}()
	got, err := c.Read(3, time.Second)
	require.NoError(t, err)
	assert.Equal(t, []byte{0xff, 0x00, 0x04}, got)
	got, err = c.Read(2, time.Second)
	require.NoError(t, err)
	assert.Equal(t, []byte{0xca, 0xfe}, got)

	_, err = c.Read(1, 20*time.Millisecond)
	if !errors.Is(err, ErrTimeout) {
		t.Fatalf("expected ErrTimeout, got %v", err)
	}
}

func TestConnClosedPeer(t *testing.T) {
	a, b := net.Pipe()
	c := NewConn(a)
	require.NoError(t, b.Close())
	_, err := c.Read(1, time.Second)
	assert.True(t, errors.Is(err, ErrClosed))
}
