package schema

import (
	"errors"
	"testing"

	"github.com/danmuck/rammbock/internal/protocol/template"
	"github.com/danmuck/rammbock/internal/protocol/value"
	"github.com/danmuck/rammbock/internal/testutil/testlog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const exampleDefs = `
protocols:
  - name: Example
    fields:
      - {type: uint, name: id, length: 1}
      - {type: uint, name: length, length: 2}
      - {type: pdu, name: pdu, length: length-2}
messages:
  - name: Request
    protocol: Example
    header: {id: 0x01}
    fields:
      - {type: uint, name: count, length: 1}
      - type: list
        name: items
        length: count
        fields:
          - {type: chars, name: item, length: 2}
      - type: bin_container
        name: flags
        fields:
          - {type: bin, name: a, length: 3, value: 0b101}
          - {type: bin, name: b, length: 5, value: 1}
      - type: conditional
        name: extra
        condition: count==2
        fields:
          - {type: uint, name: x, length: 1, value: 7}
`

func TestLoadBuildsEncodableMessage(t *testing.T) {
	testlog.Start(t)
	set, err := Load([]byte(exampleDefs), nil)
	require.NoError(t, err)
	require.Contains(t, set.Protocols, "Example")
	require.Equal(t, []string{"Request"}, set.MessageOrder)

	m := set.Messages["Request"]
	assert.Equal(t, "0x01", m.HeaderParams()["id"])

	msg, err := m.Encode(template.Params{"count": "2", "items[0]": "ab", "items[1]": "cd"}, nil)
	require.NoError(t, err)
	assert.Equal(t, []byte{0x01, 0x00, 0x09, 0x02, 'a', 'b', 'c', 'd', 0xa1, 0x07}, msg.Raw())

	hdr, rest, err := set.Protocols["Example"].DecodeHeader(msg.Raw())
	require.NoError(t, err)
	decoded, err := m.Decode(rest, hdr)
	require.NoError(t, err)
	assert.Empty(t, m.Validate(decoded, template.Params{"items[1]": "cd", "flags.a": "5"}, nil))
}

func TestScalarKeepsLiteralForm(t *testing.T) {
	testlog.Start(t)
	d, err := Parse([]byte(`
messages:
  - name: M
    fields:
      - {type: uint, name: a, length: 2, value: 0x0005}
      - {type: uint, name: b, length: 1, value: ~}
`))
	require.NoError(t, err)
	fields := d.Messages[0].Fields
	assert.Equal(t, Scalar{Raw: "0x0005", Set: true}, fields[0].Value)
	assert.False(t, fields[1].Value.Set)
	assert.Equal(t, "2", fields[0].Length.Raw)
	assert.Greater(t, fields[0].Line, 0)
}

func TestScalarRejectsMapping(t *testing.T) {
	testlog.Start(t)
	_, err := Parse([]byte(`
messages:
  - name: M
    fields:
      - {type: uint, name: a, length: {x: 1}}
`))
	require.Error(t, err)
	assert.True(t, errors.Is(err, template.ErrSchema))
}

func TestBuildErrorsCarryNodePath(t *testing.T) {
	testlog.Start(t)
	cases := map[string]struct {
		doc  string
		path string
	}{
		"unknown type": {
			doc: `
messages:
  - name: Bad
    fields:
      - type: struct
        name: outer
        fields:
          - {type: float, name: x, length: 4}
`,
			path: "messages.Bad.outer.x",
		},
		"unknown protocol": {
			doc: `
messages:
  - {name: Bad, protocol: Nope}
`,
			path: "messages.Bad",
		},
		"dynamic union member": {
			doc: `
messages:
  - name: Bad
    fields:
      - {type: uint, name: n, length: 1}
      - type: union
        name: u
        fields:
          - {type: chars, name: c, length: n}
`,
			path: "messages.Bad.u.c",
		},
		"list without length": {
			doc: `
messages:
  - name: Bad
    fields:
      - type: list
        name: l
        fields:
          - {type: uint, name: v, length: 1}
`,
			path: "messages.Bad.l",
		},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Load([]byte(tc.doc), nil)
			require.Error(t, err)
			var ve *ValidationError
			require.True(t, errors.As(err, &ve), "got %T: %v", err, err)
			assert.Equal(t, tc.path, ve.Path)
			assert.True(t, errors.Is(err, template.ErrSchema))
		})
	}
}

func TestLoadUsesKnownProtocols(t *testing.T) {
	testlog.Start(t)
	first, err := Load([]byte(exampleDefs), nil)
	require.NoError(t, err)

	second, err := Load([]byte(`
messages:
  - name: Ping
    protocol: Example
    header: {id: 9}
    fields:
      - {type: uint, name: seq, length: 2, value: 1}
`), first.Protocols)
	require.NoError(t, err)

	msg, err := second.Messages["Ping"].Encode(nil, nil)
	require.NoError(t, err)
	assert.Equal(t, []byte{0x09, 0x00, 0x04, 0x00, 0x01}, msg.Raw())
}

func TestBagDefinitionDecodes(t *testing.T) {
	testlog.Start(t)
	set, err := Load([]byte(`
messages:
  - name: Options
    fields:
      - type: bag
        name: opts
        fields:
          - type: case
            name: small
            size: 0-2
            fields:
              - type: struct
                name: small
                fields:
                  - {type: uint, name: tag, length: 1, value: 1}
                  - {type: uint, name: v, length: 1}
          - type: case
            name: big
            size: "*"
            fields:
              - type: struct
                name: big
                fields:
                  - {type: uint, name: tag, length: 1, value: 2}
                  - {type: uint, name: v, length: 2}
`), nil)
	require.NoError(t, err)
	m := set.Messages["Options"]
	msg, err := m.Decode([]byte{0x02, 0x00, 0x10, 0x01, 0xaa}, nil)
	require.NoError(t, err)
	n, ok := value.Get(msg, "opts.big[0].v")
	require.True(t, ok)
	assert.Equal(t, uint64(0x10), n.(*value.Field).Uint())
	assert.Empty(t, m.Validate(msg, nil, nil))
}
