package netutil

import (
	"errors"
	"fmt"
	"net"
	"strings"
)

// Listen binds preferred, or the first free candidate when autoFallback is
// set. The listener is returned open so the address cannot be taken between
// selection and serve.
func Listen(preferred string, candidates []string, autoFallback bool) (net.Listener, error) {
	if preferred != "" {
		ln, err := net.Listen("tcp", preferred)
		if err == nil {
			return ln, nil
		}
		if !autoFallback {
			return nil, fmt.Errorf("preferred bind address in use: %s: %w", preferred, err)
		}
	}

	for _, addr := range candidates {
		addr = strings.TrimSpace(addr)
		if addr == "" || addr == preferred {
			continue
		}
		if ln, err := net.Listen("tcp", addr); err == nil {
			return ln, nil
		}
	}

	return nil, errors.New("no available bind addresses")
}

// SplitList parses a comma separated address list.
func SplitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
