package config

import (
	"fmt"
	"os"
)

func Template() string {
	return defaultTemplate
}

func WriteTemplate(path string, overwrite bool) error {
	if !overwrite {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("config already exists: %s", path)
		}
	}
	return os.WriteFile(path, []byte(defaultTemplate), 0o600)
}

const defaultTemplate = `# wait between background handler cycles
handler_interval = "500ms"
# read timeout of one handler cycle
poll_timeout = "10ms"
# read timeout while draining a stream for a latest receive
fill_timeout = "10ms"
# receive timeout when none is given
default_timeout = "10s"
max_payload_bytes = 8388608
# extra delay after consecutive failed handler cycles
error_backoff_initial = "250ms"
error_backoff_max = "5s"
# trace|debug|info|warn|error|disabled
log_level = "info"
definitions = []
`
