// Package library is the process-level entry point: it owns saved protocols,
// message templates and named streams, and serializes every public
// operation on one global lock.
//
// Ownership boundary:
// - the global lock shared with every stream it registers
// - template building, saving and loading by name
// - encode, decode and validate against the current template
// - the named stream registry and handler registration
//
// The lock is not re-entrant. Library methods release it before calling
// into a stream, and streams take it themselves, so a handler may call back
// into the library.
package library

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/danmuck/rammbock/internal/observability"
	"github.com/danmuck/rammbock/internal/protocol/frame"
	"github.com/danmuck/rammbock/internal/protocol/schema"
	"github.com/danmuck/rammbock/internal/protocol/session"
	"github.com/danmuck/rammbock/internal/protocol/template"
	"github.com/danmuck/rammbock/internal/protocol/value"
	"github.com/rs/zerolog/log"
)

var globalLock sync.Mutex

// Lock returns the process-wide lock every library and stream shares.
func Lock() sync.Locker { return &globalLock }

type Config struct {
	Session session.Config
	Limits  frame.Limits
}

func DefaultConfig() Config {
	return Config{Session: session.DefaultConfig(), Limits: frame.DefaultLimits()}
}

// MismatchError carries every validation mismatch of one message.
type MismatchError struct {
	Errors []string
}

func (e *MismatchError) Error() string {
	return fmt.Sprintf("%d validation mismatch(es):\n%s", len(e.Errors), strings.Join(e.Errors, "\n"))
}

type Library struct {
	cfg Config

	// guarded by globalLock
	protocols map[string]*template.Protocol
	templates map[string]*template.Message
	streams   map[string]*session.Stream
	builder   *template.Builder
	current   *template.Message
}

func New(cfg Config) *Library {
	observability.RegisterMetrics()
	if cfg.Limits.MaxPayloadBytes <= 0 {
		cfg.Limits = frame.DefaultLimits()
	}
	return &Library{
		cfg:       cfg,
		protocols: make(map[string]*template.Protocol),
		templates: make(map[string]*template.Message),
		streams:   make(map[string]*session.Stream),
		builder:   template.NewBuilder(),
	}
}

func (l *Library) locked(fn func() error) error {
	globalLock.Lock()
	defer globalLock.Unlock()
	return fn()
}

// Protocol returns a saved protocol.
func (l *Library) Protocol(name string) (*template.Protocol, bool) {
	globalLock.Lock()
	defer globalLock.Unlock()
	p, ok := l.protocols[name]
	return p, ok
}

// Template returns a saved message template.
func (l *Library) Template(name string) (*template.Message, bool) {
	globalLock.Lock()
	defer globalLock.Unlock()
	m, ok := l.templates[name]
	return m, ok
}

// Templates lists saved template names.
func (l *Library) Templates() []string {
	globalLock.Lock()
	defer globalLock.Unlock()
	out := make([]string, 0, len(l.templates))
	for name := range l.templates {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// LoadDefinitions builds a YAML definitions file and saves its protocols and
// messages. Existing names are replaced.
func (l *Library) LoadDefinitions(path string) error {
	return l.locked(func() error {
		set, err := schema.LoadFile(path, l.protocols)
		if err != nil {
			return err
		}
		l.saveSet(set)
		return nil
	})
}

// LoadDefinitionData is LoadDefinitions for an in-memory document.
func (l *Library) LoadDefinitionData(data []byte) error {
	return l.locked(func() error {
		set, err := schema.Load(data, l.protocols)
		if err != nil {
			return err
		}
		l.saveSet(set)
		return nil
	})
}

func (l *Library) saveSet(set *schema.Set) {
	for name, p := range set.Protocols {
		l.protocols[name] = p
	}
	for _, name := range set.MessageOrder {
		l.templates[name] = set.Messages[name]
	}
}

// currentMessage closes a message still under construction and returns the
// current template.
func (l *Library) currentMessage() (*template.Message, error) {
	if l.builder.Depth() > 0 {
		c, _ := l.builder.Current()
		if _, ok := c.(*template.Message); !ok || l.builder.Depth() > 1 {
			return nil, fmt.Errorf("%w: container %s is still open", template.ErrSchema, c.Name())
		}
		m, err := l.builder.EndMessage()
		if err != nil {
			return nil, err
		}
		l.current = m
	}
	if l.current == nil {
		return nil, fmt.Errorf("%w: no message template is loaded", template.ErrSchema)
	}
	return l.current, nil
}

// GetMessage encodes the current template. params use the ParseParams syntax.
func (l *Library) GetMessage(params ...string) (*value.Message, error) {
	body, header, err := ParseParams(params)
	if err != nil {
		return nil, err
	}
	globalLock.Lock()
	defer globalLock.Unlock()
	m, err := l.currentMessage()
	if err != nil {
		return nil, err
	}
	msg, err := m.Encode(body, header)
	if err != nil {
		return nil, err
	}
	log.Debug().Str("template", m.Name()).Int("bytes", msg.Len()).Msg("message encoded")
	return msg, nil
}

// Decode reads data with the current template, protocol header first when
// the template has one.
func (l *Library) Decode(data []byte) (*value.Message, error) {
	globalLock.Lock()
	defer globalLock.Unlock()
	m, err := l.currentMessage()
	if err != nil {
		return nil, err
	}
	return decodeWith(m, data)
}

func decodeWith(m *template.Message, data []byte) (*value.Message, error) {
	p := m.Protocol()
	if p == nil {
		return m.Decode(data, nil)
	}
	hdr, rest, err := p.DecodeHeader(data)
	if err != nil {
		return nil, err
	}
	return m.Decode(rest, hdr)
}

// ValidateMessage checks msg against the current template and params.
func (l *Library) ValidateMessage(msg *value.Message, params ...string) error {
	body, header, err := ParseParams(params)
	if err != nil {
		return err
	}
	globalLock.Lock()
	defer globalLock.Unlock()
	m, err := l.currentMessage()
	if err != nil {
		return err
	}
	return validate(m, msg, body, header)
}

func validate(m *template.Message, msg *value.Message, body, header template.Params) error {
	if errs := m.Validate(msg, body, header); len(errs) > 0 {
		return &MismatchError{Errors: errs}
	}
	return nil
}
