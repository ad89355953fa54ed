package frame

import (
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/danmuck/rammbock/internal/protocol/template"
	"github.com/danmuck/rammbock/internal/protocol/value"
	"github.com/danmuck/rammbock/internal/transport"
)

var (
	ErrPayloadTooLarge = errors.New("frame: payload too large")
	ErrNoPDU           = errors.New("frame: protocol has no pdu")
)

// Frame is one decoded header and its raw payload.
type Frame struct {
	Header  *value.Header
	Payload []byte
}

// Limits constrains frame decode memory use.
type Limits struct {
	MaxPayloadBytes int
}

func DefaultLimits() Limits {
	return Limits{
		MaxPayloadBytes: 8 * 1024 * 1024,
	}
}

// Reader splits a byte source into frames of one protocol.
type Reader struct {
	protocol *template.Protocol
	limits   Limits
}

func NewReader(p *template.Protocol, limits Limits) (*Reader, error) {
	if p == nil || p.PDU() == nil {
		return nil, ErrNoPDU
	}
	if limits.MaxPayloadBytes <= 0 {
		limits = DefaultLimits()
	}
	return &Reader{protocol: p, limits: limits}, nil
}

func (r *Reader) Protocol() *template.Protocol { return r.protocol }

// ReadFrame reads the header, then the payload it announces. On any error
// after the header is read, the header bytes are pushed back so the source
// stays positioned at a frame boundary.
func (r *Reader) ReadFrame(src transport.Source, timeout time.Duration) (Frame, error) {
	deadline := time.Now().Add(timeout)
	raw, err := src.Read(r.protocol.HeaderLength(), timeout)
	if err != nil {
		return Frame{}, err
	}
	hdr, rest, err := r.protocol.DecodeHeader(raw)
	if err != nil {
		src.ReturnData(raw)
		return Frame{}, err
	}
	src.ReturnData(rest)
	head := raw[:len(raw)-len(rest)]

	n, err := r.protocol.PayloadLength(hdr)
	if err != nil {
		src.ReturnData(head)
		return Frame{}, err
	}
	if n > r.limits.MaxPayloadBytes {
		src.ReturnData(head)
		return Frame{}, fmt.Errorf("%w: %d > %d", ErrPayloadTooLarge, n, r.limits.MaxPayloadBytes)
	}
	payload, err := src.Read(n, remaining(deadline))
	if err != nil {
		src.ReturnData(head)
		return Frame{}, err
	}
	return Frame{Header: hdr, Payload: payload}, nil
}

// WriteFrame writes the full encoded message, header included.
func WriteFrame(w io.Writer, msg *value.Message, limits Limits) error {
	if msg.BodyLen() > limits.MaxPayloadBytes {
		return ErrPayloadTooLarge
	}
	_, err := w.Write(msg.Raw())
	return err
}

func remaining(deadline time.Time) time.Duration {
	d := time.Until(deadline)
	if d < 0 {
		return 0
	}
	return d
}
