package library

import (
	"fmt"
	"strings"

	"github.com/danmuck/rammbock/internal/protocol/template"
)

const headerPrefix = "header:"

// ParseParams splits "name:value" pairs into body and header maps. A
// "header:" prefix routes a pair into the header map. Names keep their
// dotted and bracketed paths; "*" sets the wildcard default.
func ParseParams(params []string) (body, header template.Params, err error) {
	body, header = template.Params{}, template.Params{}
	for _, raw := range params {
		raw = strings.TrimSpace(raw)
		if raw == "" {
			continue
		}
		into := body
		if strings.HasPrefix(raw, headerPrefix) {
			into = header
			raw = strings.TrimPrefix(raw, headerPrefix)
		}
		name, val, ok := strings.Cut(raw, ":")
		name = strings.TrimSpace(name)
		if !ok || name == "" {
			return nil, nil, fmt.Errorf("parameter %q is not name:value", raw)
		}
		into[name] = strings.TrimSpace(val)
	}
	return body, header, nil
}

// SplitParams splits a comma separated list, as taken on the command line.
func SplitParams(s string) []string {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	return strings.Split(s, ",")
}
