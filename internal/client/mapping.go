package client

import (
	"fmt"
	"strconv"
	"strings"
)

// ParseMapping parses the CLI's "local:remote" port mapping argument.
// A bare "5555" maps the same port on both ends.
func ParseMapping(s string) (local, remote uint16, err error) {
	parts := strings.Split(s, ":")
	switch len(parts) {
	case 1:
		p, err := parsePort(parts[0])
		if err != nil {
			return 0, 0, err
		}
		return p, p, nil
	case 2:
		l, err := parsePort(parts[0])
		if err != nil {
			return 0, 0, err
		}
		r, err := parsePort(parts[1])
		if err != nil {
			return 0, 0, err
		}
		return l, r, nil
	default:
		return 0, 0, fmt.Errorf("invalid mapping %q, use local:remote", s)
	}
}

func parsePort(s string) (uint16, error) {
	n, err := strconv.ParseUint(s, 10, 16)
	if err != nil {
		return 0, fmt.Errorf("invalid port %q", s)
	}
	return uint16(n), nil
}
