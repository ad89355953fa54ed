package library

import (
	"fmt"

	"github.com/danmuck/rammbock/internal/protocol/template"
	"github.com/danmuck/rammbock/internal/protocol/value"
	"github.com/rs/zerolog/log"
)

func (l *Library) StartProtocol(name string, littleEndian bool) error {
	return l.locked(func() error {
		if _, dup := l.protocols[name]; dup {
			return fmt.Errorf("%w: protocol %s already defined", template.ErrSchema, name)
		}
		return l.builder.StartProtocol(name, littleEndian)
	})
}

func (l *Library) EndProtocol() error {
	return l.locked(func() error {
		p, err := l.builder.EndProtocol()
		if err != nil {
			l.builder.Reset()
			return err
		}
		l.protocols[p.Name()] = p
		log.Debug().Str("protocol", p.Name()).Int("header_bytes", p.HeaderLength()).Msg("protocol saved")
		return nil
	})
}

// NewMessage starts a message template. header holds "name:value" defaults
// for the protocol header.
func (l *Library) NewMessage(name, protocol string, header ...string) error {
	hp, _, err := ParseParams(header)
	if err != nil {
		return err
	}
	return l.locked(func() error {
		var p *template.Protocol
		if protocol != "" {
			var ok bool
			if p, ok = l.protocols[protocol]; !ok {
				return fmt.Errorf("%w: unknown protocol %s", template.ErrSchema, protocol)
			}
		}
		l.builder.Reset()
		l.current = nil
		return l.builder.StartMessage(name, p, hp)
	})
}

// SaveTemplate stores the current message under name.
func (l *Library) SaveTemplate(name string) error {
	return l.locked(func() error {
		m, err := l.currentMessage()
		if err != nil {
			return err
		}
		l.templates[name] = m
		return nil
	})
}

// LoadTemplate makes a saved template current, with params stored as its
// defaults.
func (l *Library) LoadTemplate(name string, params ...string) error {
	body, header, err := ParseParams(params)
	if err != nil {
		return err
	}
	return l.locked(func() error {
		m, ok := l.templates[name]
		if !ok {
			return fmt.Errorf("%w: no template %s", template.ErrSchema, name)
		}
		l.builder.Reset()
		l.current = m.WithParams(body, header)
		return nil
	})
}

// LoadCopyOfTemplate reopens a saved template for more fields. The saved
// template does not change.
func (l *Library) LoadCopyOfTemplate(name string, params ...string) error {
	body, header, err := ParseParams(params)
	if err != nil {
		return err
	}
	return l.locked(func() error {
		m, ok := l.templates[name]
		if !ok {
			return fmt.Errorf("%w: no template %s", template.ErrSchema, name)
		}
		l.builder.Reset()
		l.current = nil
		return l.builder.ExtendMessage(m.WithParams(body, header))
	})
}

func (l *Library) field(kind value.Kind, length, name, def string, opts ...template.FieldOption) error {
	if def != "" {
		opts = append(opts, template.WithDefault(def))
	}
	f, err := template.NewField(kind, name, length, opts...)
	if err != nil {
		return err
	}
	return l.locked(func() error { return l.builder.Add(f) })
}

func (l *Library) UInt(length, name, def string, opts ...template.FieldOption) error {
	return l.field(value.KindUint, length, name, def, opts...)
}

func (l *Library) Int(length, name, def string, opts ...template.FieldOption) error {
	return l.field(value.KindInt, length, name, def, opts...)
}

func (l *Library) Chars(length, name, def string, opts ...template.FieldOption) error {
	return l.field(value.KindChars, length, name, def, opts...)
}

// Bin adds a bit field; it belongs in a binary container.
func (l *Library) Bin(length, name, def string) error {
	return l.field(value.KindBin, length, name, def)
}

func (l *Library) TBCD(length, name, def string) error {
	return l.field(value.KindTBCD, length, name, def)
}

// PDU closes a protocol header; length names the header field carrying
// the payload size.
func (l *Library) PDU(length string) error {
	return l.field(value.KindPDU, length, "pdu", "")
}

func (l *Library) push(c template.Container, err error) error {
	if err != nil {
		return err
	}
	return l.locked(func() error { return l.builder.Push(c) })
}

func (l *Library) StartStruct(name, length string, align int) error {
	s, err := template.NewStruct(name, length, align, false)
	return l.push(s, err)
}

func (l *Library) StartList(length, name string) error {
	c, err := template.NewList(name, length)
	return l.push(c, err)
}

func (l *Library) StartUnion(name string) error {
	return l.push(template.NewUnion(name), nil)
}

func (l *Library) StartBag(name string) error {
	return l.push(template.NewBag(name), nil)
}

func (l *Library) StartCase(size, name string) error {
	c, err := template.NewCase(name, size)
	return l.push(c, err)
}

func (l *Library) StartBinaryContainer(name string, littleEndian bool) error {
	return l.push(template.NewBinaryContainer(name, littleEndian), nil)
}

func (l *Library) StartTBCDContainer(name string) error {
	return l.push(template.NewTBCDContainer(name), nil)
}

func (l *Library) StartConditional(condition, name string) error {
	c, err := template.NewConditional(name, condition)
	return l.push(c, err)
}

// End closes the innermost open container.
func (l *Library) End() error {
	return l.locked(func() error {
		_, err := l.builder.Pop()
		return err
	})
}
