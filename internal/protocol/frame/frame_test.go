package frame

import (
	"bytes"
	"errors"
	"testing"
	"time"

	"github.com/danmuck/rammbock/internal/protocol/template"
	"github.com/danmuck/rammbock/internal/protocol/value"
	"github.com/danmuck/rammbock/internal/transport"
)

func testProtocol(t *testing.T, withPDU bool) *template.Protocol {
	t.Helper()
	b := template.NewBuilder()
	add := func(kind value.Kind, name, length string) {
		f, err := template.NewField(kind, name, length)
		if err != nil {
			t.Fatalf("field %s: %v", name, err)
		}
		if err := b.Add(f); err != nil {
			t.Fatalf("add %s: %v", name, err)
		}
	}
	if err := b.StartProtocol("Example", false); err != nil {
		t.Fatalf("start: %v", err)
	}
	add(value.KindUint, "id", "1")
	add(value.KindUint, "length", "2")
	if withPDU {
		add(value.KindPDU, "pdu", "length-2")
	}
	p, err := b.EndProtocol()
	if err != nil {
		t.Fatalf("end: %v", err)
	}
	return p
}

func TestReadFrameSplitsHeaderAndPayload(t *testing.T) {
	r, err := NewReader(testProtocol(t, true), DefaultLimits())
	if err != nil {
		t.Fatalf("new reader: %v", err)
	}
	src := transport.NewPipe()
	src.Feed([]byte{0xff, 0x00, 0x04, 0xca, 0xfe, 0x01})

	f, err := r.ReadFrame(src, 100*time.Millisecond)
	if err != nil {
		t.Fatalf("read frame: %v", err)
	}
	id, _ := f.Header.Child("id")
	if got := id.(*value.Field).Uint(); got != 0xff {
		t.Fatalf("id mismatch: got=%#x", got)
	}
	if !bytes.Equal(f.Payload, []byte{0xca, 0xfe}) {
		t.Fatalf("payload mismatch: %x", f.Payload)
	}
	if src.Buffered() != 1 {
		t.Fatalf("expected trailing byte to stay buffered, have %d", src.Buffered())
	}
}

func TestReadFramePayloadTimeoutKeepsBytes(t *testing.T) {
	r, err := NewReader(testProtocol(t, true), DefaultLimits())
	if err != nil {
		t.Fatalf("new reader: %v", err)
	}
	src := transport.NewPipe()
	src.Feed([]byte{0x01, 0x00, 0x05, 0xaa})

	_, err = r.ReadFrame(src, 20*time.Millisecond)
	if !errors.Is(err, transport.ErrTimeout) {
		t.Fatalf("expected ErrTimeout, got %v", err)
	}
	if src.Buffered() != 4 {
		t.Fatalf("expected 4 buffered bytes after timeout, have %d", src.Buffered())
	}
	src.Feed([]byte{0xbb, 0xcc})
	f, err := r.ReadFrame(src, 20*time.Millisecond)
	if err != nil {
		t.Fatalf("read frame: %v", err)
	}
	if !bytes.Equal(f.Payload, []byte{0xaa, 0xbb, 0xcc}) {
		t.Fatalf("payload mismatch: %x", f.Payload)
	}
}

func TestReadFramePayloadTooLarge(t *testing.T) {
	r, err := NewReader(testProtocol(t, true), Limits{MaxPayloadBytes: 4})
	if err != nil {
		t.Fatalf("new reader: %v", err)
	}
	src := transport.NewPipe()
	src.Feed([]byte{0x01, 0x00, 0x10})
	_, err = r.ReadFrame(src, 10*time.Millisecond)
	if !errors.Is(err, ErrPayloadTooLarge) {
		t.Fatalf("expected ErrPayloadTooLarge, got %v", err)
	}
	if src.Buffered() != 3 {
		t.Fatalf("expected header pushed back, have %d buffered bytes", src.Buffered())
	}
}

func TestReadFrameNegativePayloadKeepsHeader(t *testing.T) {
	r, err := NewReader(testProtocol(t, true), DefaultLimits())
	if err != nil {
		t.Fatalf("new reader: %v", err)
	}
	src := transport.NewPipe()
	src.Feed([]byte{0x01, 0x00, 0x01, 0xaa})
	if _, err := r.ReadFrame(src, 10*time.Millisecond); err == nil {
		t.Fatalf("expected error for length below the pdu offset")
	}
	if src.Buffered() != 4 {
		t.Fatalf("expected all 4 bytes buffered, have %d", src.Buffered())
	}
}

func TestNewReaderRequiresPDU(t *testing.T) {
	if _, err := NewReader(testProtocol(t, false), DefaultLimits()); !errors.Is(err, ErrNoPDU) {
		t.Fatalf("expected ErrNoPDU, got %v", err)
	}
}

func TestWriteFrame(t *testing.T) {
	msg := value.NewMessage("m")
	msg.Set("body", value.NewField(value.KindUint, "body", []byte{1, 2, 3}, 3, false))
	var buf bytes.Buffer
	if err := WriteFrame(&buf, msg, Limits{MaxPayloadBytes: 2}); !errors.Is(err, ErrPayloadTooLarge) {
		t.Fatalf("expected ErrPayloadTooLarge, got %v", err)
	}
	if err := WriteFrame(&buf, msg, DefaultLimits()); err != nil {
		t.Fatalf("write frame: %v", err)
	}
	if !bytes.Equal(buf.Bytes(), []byte{1, 2, 3}) {
		t.Fatalf("unexpected bytes %x", buf.Bytes())
	}
}
