package library

import (
	"errors"
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/danmuck/rammbock/internal/protocol/frame"
	"github.com/danmuck/rammbock/internal/protocol/session"
	"github.com/danmuck/rammbock/internal/protocol/template"
	"github.com/danmuck/rammbock/internal/protocol/value"
	"github.com/danmuck/rammbock/internal/transport"
	"github.com/rs/zerolog/log"
)

var ErrUnknownStream = errors.New("library: unknown stream")

// Arity selects the calling convention of a handler.
type Arity int

const (
	// ArityMessage handlers get the library and the message.
	ArityMessage Arity = 2
	// ArityNode handlers also get the originating node.
	ArityNode Arity = 3
	// ArityConnection handlers also get the node and its connection.
	ArityConnection Arity = 4
)

// Handler is a callback chosen at registration by its argument count.
type Handler struct {
	arity  Arity
	onMsg  func(*Library, *value.Message)
	onNode func(*Library, *value.Message, string)
	onConn func(*Library, *value.Message, string, string)
}

func OnMessage(fn func(lib *Library, msg *value.Message)) Handler {
	return Handler{arity: ArityMessage, onMsg: fn}
}

func OnMessageFromNode(fn func(lib *Library, msg *value.Message, node string)) Handler {
	return Handler{arity: ArityNode, onNode: fn}
}

func OnMessageFromConnection(fn func(lib *Library, msg *value.Message, node, connection string)) Handler {
	return Handler{arity: ArityConnection, onConn: fn}
}

func (h Handler) Arity() Arity { return h.arity }

func (h Handler) dispatch(lib *Library) session.Dispatch {
	return func(msg *value.Message, origin session.Origin) {
		switch h.arity {
		case ArityMessage:
			h.onMsg(lib, msg)
		case ArityNode:
			h.onNode(lib, msg, origin.Node)
		case ArityConnection:
			h.onConn(lib, msg, origin.Node, origin.Connection)
		}
	}
}

// RegisterStream frames src with a saved protocol under name.
func (l *Library) RegisterStream(name string, src transport.Source, protocol string, origin session.Origin) error {
	return l.locked(func() error {
		if _, dup := l.streams[name]; dup {
			return fmt.Errorf("library: stream %s already registered", name)
		}
		p, ok := l.protocols[protocol]
		if !ok {
			return fmt.Errorf("%w: unknown protocol %s", template.ErrSchema, protocol)
		}
		r, err := frame.NewReader(p, l.cfg.Limits)
		if err != nil {
			return err
		}
		l.streams[name] = session.NewStream(name, r, src, &globalLock, l.cfg.Session, origin)
		log.Info().Str("stream", name).Str("protocol", protocol).Str("node", origin.Node).Msg("stream registered")
		return nil
	})
}

// Streams lists registered stream names.
func (l *Library) Streams() []string {
	globalLock.Lock()
	defer globalLock.Unlock()
	out := make([]string, 0, len(l.streams))
	for name := range l.streams {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

func (l *Library) stream(name string) (*session.Stream, error) {
	globalLock.Lock()
	defer globalLock.Unlock()
	s, ok := l.streams[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownStream, name)
	}
	return s, nil
}

// streamTemplate resolves the stream and the current template with params
// stored on it.
func (l *Library) streamTemplate(stream string, params []string) (*session.Stream, *template.Message, error) {
	body, header, err := ParseParams(params)
	if err != nil {
		return nil, nil, err
	}
	globalLock.Lock()
	defer globalLock.Unlock()
	s, ok := l.streams[stream]
	if !ok {
		return nil, nil, fmt.Errorf("%w: %s", ErrUnknownStream, stream)
	}
	m, err := l.currentMessage()
	if err != nil {
		return nil, nil, err
	}
	return s, m.WithParams(body, header), nil
}

// ReceiveMessage waits on stream for the current template and validates the
// result. A mismatch returns the message together with a *MismatchError.
func (l *Library) ReceiveMessage(stream string, timeout time.Duration, filter string, latest bool, params ...string) (*value.Message, error) {
	s, tmpl, err := l.streamTemplate(stream, params)
	if err != nil {
		return nil, err
	}
	msg, err := s.Get(tmpl, timeout, filter, latest)
	if err != nil {
		return nil, err
	}
	globalLock.Lock()
	defer globalLock.Unlock()
	return msg, validate(tmpl, msg, nil, nil)
}

// SetHandler calls h with every message on stream matching the current
// template, from the stream's background worker.
func (l *Library) SetHandler(stream string, h Handler, filter string, interval time.Duration, params ...string) (session.HandlerID, error) {
	s, tmpl, err := l.streamTemplate(stream, params)
	if err != nil {
		return "", err
	}
	return s.SetHandler(tmpl, h.dispatch(l), filter, interval)
}

func (l *Library) RemoveHandler(stream string, id session.HandlerID) (bool, error) {
	s, err := l.stream(stream)
	if err != nil {
		return false, err
	}
	return s.RemoveHandler(id), nil
}

// EmptyStream drops cached frames and drains the stream source.
func (l *Library) EmptyStream(stream string) error {
	s, err := l.stream(stream)
	if err != nil {
		return err
	}
	s.Empty()
	return nil
}

// CloseStream stops and forgets a stream.
func (l *Library) CloseStream(stream string) error {
	globalLock.Lock()
	s, ok := l.streams[stream]
	delete(l.streams, stream)
	globalLock.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownStream, stream)
	}
	s.Close()
	return nil
}

// ResetStreams closes every stream.
func (l *Library) ResetStreams() {
	globalLock.Lock()
	streams := l.streams
	l.streams = make(map[string]*session.Stream)
	globalLock.Unlock()
	for _, s := range streams {
		s.Close()
	}
}

// SendMessage encodes the current template and writes it to w.
func (l *Library) SendMessage(w io.Writer, params ...string) (*value.Message, error) {
	msg, err := l.GetMessage(params...)
	if err != nil {
		return nil, err
	}
	if err := frame.WriteFrame(w, msg, l.cfg.Limits); err != nil {
		return nil, err
	}
	return msg, nil
}
