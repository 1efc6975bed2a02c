package client

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// ErrConnectionLost is returned for calls still pending when the connection drops. The server
// may or may not have executed them.
var ErrConnectionLost = errors.New("connection lost before response")

// CallError is an Error message returned by the server for a call.
type CallError struct {
	Code    string
	Message string
	Fields  map[string]string
}

func (e *CallError) Error() string {
	var b strings.Builder
	if e.Code != "" {
		fmt.Fprintf(&b, "%s: ", e.Code)
	}
	b.WriteString(e.Message)
	if len(e.Fields) > 0 {
		keys := make([]string, 0, len(e.Fields))
		for k := range e.Fields {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		parts := make([]string, 0, len(keys))
		for _, k := range keys {
			parts = append(parts, k+": "+e.Fields[k])
		}
		fmt.Fprintf(&b, " (%s)", strings.Join(parts, "; "))
	}
	return b.String()
}
