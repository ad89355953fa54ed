package session

import (
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/danmuck/rammbock/internal/observability"
	"github.com/danmuck/rammbock/internal/protocol/frame"
	"github.com/danmuck/rammbock/internal/protocol/template"
	"github.com/danmuck/rammbock/internal/protocol/value"
	"github.com/danmuck/rammbock/internal/transport"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

var (
	ErrTimeout = fmt.Errorf("session: %w", transport.ErrTimeout)
	ErrClosed  = errors.New("session: stream closed")
)

// Origin names where a stream's frames come from. Connection is empty for
// connectionless transports.
type Origin struct {
	Node       string
	Connection string
}

// Dispatch receives a decoded message matched by a registered handler.
type Dispatch func(msg *value.Message, origin Origin)

// HandlerID identifies a registered handler.
type HandlerID string

type handler struct {
	id       HandlerID
	tmpl     *template.Message
	dispatch Dispatch
	filter   string
}

type delivery struct {
	h   handler
	msg *value.Message
}

// Stream frames one byte source, caches frames nobody is waiting for and
// hands matching frames to registered handlers from a background worker.
type Stream struct {
	name   string
	reader *frame.Reader
	source transport.Source
	lock   sync.Locker
	cfg    Config
	origin Origin
	logger zerolog.Logger
	cache  *Cache

	// guarded by lock
	handlers []handler
	interval time.Duration
	running  bool
	closed   bool
	// set while the worker runs handlers outside the lock
	delivering bool

	stop chan struct{}
	done chan struct{}
	rng  *rand.Rand
}

// NewStream builds a stream. lock is shared by every stream of a library;
// callers must not hold it when calling stream methods.
func NewStream(name string, reader *frame.Reader, source transport.Source, lock sync.Locker, cfg Config, origin Origin) *Stream {
	if cfg.HandlerInterval <= 0 {
		cfg.HandlerInterval = DefaultConfig().HandlerInterval
	}
	if cfg.PollTimeout <= 0 {
		cfg.PollTimeout = DefaultConfig().PollTimeout
	}
	if cfg.FillTimeout <= 0 {
		cfg.FillTimeout = DefaultConfig().FillTimeout
	}
	if cfg.DefaultTimeout <= 0 {
		cfg.DefaultTimeout = DefaultConfig().DefaultTimeout
	}
	return &Stream{
		name:     name,
		reader:   reader,
		source:   source,
		lock:     lock,
		cfg:      cfg,
		origin:   origin,
		logger:   observability.StreamLogger(name, reader.Protocol().Name()),
		cache:    NewCache(),
		interval: cfg.HandlerInterval,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
		rng:      rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

func (s *Stream) Name() string { return s.name }

// Cached returns a copy of the entries still waiting in the cache.
func (s *Stream) Cached() []Entry { return s.cache.List() }

// Get returns the next message matching tmpl. Cached frames are tried first,
// newest first when latest is set, then new frames are read until timeout.
// Frames read along the way go to a matching handler or into the cache.
func (s *Stream) Get(tmpl *template.Message, timeout time.Duration, filter string, latest bool) (*value.Message, error) {
	if timeout <= 0 {
		timeout = s.cfg.DefaultTimeout
	}
	deadline := time.Now().Add(timeout)

	s.lock.Lock()
	msg, out, err := s.get(tmpl, deadline, filter, latest)
	s.lock.Unlock()

	s.deliver(out)
	return msg, err
}

func (s *Stream) get(tmpl *template.Message, deadline time.Time, filter string, latest bool) (*value.Message, []delivery, error) {
	if s.closed {
		return nil, nil, ErrClosed
	}
	if latest {
		s.fillCache()
	}
	out := s.matchHandlers()
	if msg, ok := s.fromCache(tmpl, filter, latest); ok {
		return msg, out, nil
	}
	for {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			observability.RecordGetTimeout(s.name)
			return nil, out, ErrTimeout
		}
		f, err := s.reader.ReadFrame(s.source, remaining)
		if errors.Is(err, transport.ErrTimeout) {
			observability.RecordGetTimeout(s.name)
			return nil, out, ErrTimeout
		}
		if err != nil {
			return nil, out, err
		}
		observability.RecordFrameRead(s.name)
		if tmpl.MatchesHeader(f.Header, filter) {
			msg, err := tmpl.Decode(f.Payload, f.Header)
			if err == nil {
				return msg, out, nil
			}
			s.logger.Debug().Err(err).Str("template", tmpl.Name()).Msg("frame matched header but not body")
		}
		if d, ok := s.matchOrCache(f); ok {
			out = append(out, d)
		}
	}
}

// fillCache reads everything already waiting on the source into the cache.
func (s *Stream) fillCache() {
	for {
		f, err := s.reader.ReadFrame(s.source, s.cfg.FillTimeout)
		if err != nil {
			if !errors.Is(err, transport.ErrTimeout) {
				s.logger.Debug().Err(err).Msg("cache fill stopped")
			}
			return
		}
		observability.RecordFrameRead(s.name)
		s.push(f)
	}
}

func (s *Stream) fromCache(tmpl *template.Message, filter string, latest bool) (*value.Message, bool) {
	var msg *value.Message
	_, ok := s.cache.Take(func(e Entry) bool {
		if !tmpl.MatchesHeader(e.Header, filter) {
			return false
		}
		m, err := tmpl.Decode(e.Payload, e.Header)
		if err != nil {
			s.logger.Debug().Err(err).Str("template", tmpl.Name()).Msg("cached frame matched header but not body")
			return false
		}
		msg = m
		return true
	}, latest)
	if !ok {
		s.logger.Debug().Str("template", tmpl.Name()).Int("cached", s.cache.Len()).Msg("cache miss")
		return nil, false
	}
	observability.RecordCacheHit(s.name, s.cache.Len())
	s.logger.Debug().Str("template", tmpl.Name()).Msg("cache hit")
	return msg, true
}

// matchHandlers removes every cached entry some handler accepts, in arrival
// order, and returns the deliveries to run once the lock is released.
func (s *Stream) matchHandlers() []delivery {
	if len(s.handlers) == 0 || s.cache.Len() == 0 {
		return nil
	}
	var out []delivery
	for {
		var d delivery
		_, ok := s.cache.Take(func(e Entry) bool {
			var hit bool
			d, hit = s.handlerFor(e.Header, e.Payload)
			return hit
		}, false)
		if !ok {
			break
		}
		out = append(out, d)
	}
	if len(out) > 0 {
		observability.SetCacheSize(s.name, s.cache.Len())
	}
	return out
}

func (s *Stream) handlerFor(hdr *value.Header, payload []byte) (delivery, bool) {
	for _, h := range s.handlers {
		if !h.tmpl.MatchesHeader(hdr, h.filter) {
			continue
		}
		msg, err := h.tmpl.Decode(payload, hdr)
		if err != nil {
			s.logger.Debug().Err(err).Str("handler", string(h.id)).Msg("handler header matched, body did not decode")
			continue
		}
		return delivery{h: h, msg: msg}, true
	}
	return delivery{}, false
}

func (s *Stream) matchOrCache(f frame.Frame) (delivery, bool) {
	if d, ok := s.handlerFor(f.Header, f.Payload); ok {
		return d, true
	}
	s.push(f)
	return delivery{}, false
}

func (s *Stream) push(f frame.Frame) {
	n := s.cache.Push(Entry{Header: f.Header, Payload: f.Payload, ReceivedAt: time.Now()})
	observability.RecordFrameCached(s.name, n)
	s.logger.Debug().Int("payload_bytes", len(f.Payload)).Int("cached", n).Msg("frame cached")
}

func (s *Stream) deliver(out []delivery) {
	for _, d := range out {
		s.run(d)
	}
}

func (s *Stream) run(d delivery) {
	defer func() {
		if r := recover(); r != nil {
			observability.RecordWorkerError(s.name)
			s.logger.Error().Interface("panic", r).Str("handler", string(d.h.id)).Msg("handler panicked")
		}
	}()
	observability.RecordDispatch(s.name)
	s.logger.Debug().Str("handler", string(d.h.id)).Str("template", d.msg.Name()).Msg("handler dispatched")
	d.h.dispatch(d.msg, s.origin)
}

// SetHandler registers dispatch for frames matching tmpl and starts the
// worker on first use. interval replaces the worker period when positive.
func (s *Stream) SetHandler(tmpl *template.Message, dispatch Dispatch, filter string, interval time.Duration) (HandlerID, error) {
	s.lock.Lock()
	defer s.lock.Unlock()
	if s.closed {
		return "", ErrClosed
	}
	id := HandlerID(uuid.NewString())
	s.handlers = append(s.handlers, handler{id: id, tmpl: tmpl, dispatch: dispatch, filter: filter})
	if interval > 0 {
		s.interval = interval
	}
	if !s.running {
		s.running = true
		go s.work()
		s.logger.Info().Dur("interval", s.interval).Msg("handler worker started")
	}
	s.logger.Debug().Str("handler", string(id)).Str("template", tmpl.Name()).Str("filter", filter).Msg("handler registered")
	return id, nil
}

// RemoveHandler unregisters a handler. The worker keeps running until Close.
func (s *Stream) RemoveHandler(id HandlerID) bool {
	s.lock.Lock()
	defer s.lock.Unlock()
	for i, h := range s.handlers {
		if h.id == id {
			s.handlers = append(s.handlers[:i:i], s.handlers[i+1:]...)
			return true
		}
	}
	return false
}

func (s *Stream) work() {
	defer close(s.done)
	failures := 0
	for {
		s.lock.Lock()
		wait := s.interval
		s.lock.Unlock()
		if failures > 0 {
			wait += NextBackoffDelay(s.cfg.Backoff, failures, s.rng)
		}
		timer := time.NewTimer(wait)
		select {
		case <-s.stop:
			timer.Stop()
			return
		case <-timer.C:
		}

		if err := s.cycle(); err != nil {
			failures++
			observability.RecordWorkerError(s.name)
			s.logger.Error().Err(err).Int("failures", failures).Msg("handler cycle failed")
			continue
		}
		failures = 0
	}
}

// cycle drains the cache to handlers, then makes one short read.
func (s *Stream) cycle() error {
	s.lock.Lock()
	if s.closed {
		s.lock.Unlock()
		return nil
	}
	out := s.matchHandlers()
	f, err := s.reader.ReadFrame(s.source, s.cfg.PollTimeout)
	switch {
	case err == nil:
		observability.RecordFrameRead(s.name)
		if d, ok := s.matchOrCache(f); ok {
			out = append(out, d)
		}
	case errors.Is(err, transport.ErrTimeout):
		err = nil
	}
	if len(out) == 0 {
		s.lock.Unlock()
		return err
	}
	s.delivering = true
	s.lock.Unlock()

	s.deliver(out)

	s.lock.Lock()
	s.delivering = false
	s.lock.Unlock()
	return err
}

// Empty discards cached frames and drains the source.
func (s *Stream) Empty() {
	s.lock.Lock()
	defer s.lock.Unlock()
	s.empty()
}

func (s *Stream) empty() {
	s.cache.Clear()
	s.source.Empty()
	observability.SetCacheSize(s.name, 0)
}

// Close stops the worker and empties the stream. A read already in flight in
// the worker finishes before the worker sees the stop. Close waits for the
// worker to exit unless the worker is running handlers, which is the case
// when a handler closes its own stream.
func (s *Stream) Close() {
	s.lock.Lock()
	if s.closed {
		s.lock.Unlock()
		return
	}
	s.closed = true
	wait := s.running && !s.delivering
	close(s.stop)
	s.empty()
	s.handlers = nil
	s.lock.Unlock()

	if wait {
		<-s.done
	}
	s.logger.Info().Msg("stream closed")
}
