package observability

import (
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// StreamLogger scopes the global logger to one message stream.
func StreamLogger(stream, protocol string) zerolog.Logger {
	return log.With().Str("stream", stream).Str("protocol", protocol).Logger()
}
