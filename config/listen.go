package config

import (
	"fmt"
	"net"
	"strconv"
	"strings"

	"github.com/migadu/milterfrom/consts"
)

// ParseListenAddress converts a libmilter style connection spec into a
// network and address usable with net.Listen.
//
//	unix:/var/run/milterfrom.sock  -> unix, /var/run/milterfrom.sock
//	local:/var/run/milterfrom.sock -> unix, /var/run/milterfrom.sock
//	inet:8890@127.0.0.1            -> tcp4, 127.0.0.1:8890
//	inet6:8890@[::1]               -> tcp6, [::1]:8890
//	inet:8890                      -> tcp4, :8890
//	/var/run/milterfrom.sock       -> unix, /var/run/milterfrom.sock
func ParseListenAddress(spec string) (network, address string, err error) {
	spec = strings.TrimSpace(spec)
	if spec == "" {
		return "", "", fmt.Errorf("%w: empty connection spec", consts.ErrInvalidListenAddress)
	}

	proto, rest, found := strings.Cut(spec, ":")
	if !found || strings.HasPrefix(spec, "/") {
		return "unix", spec, nil
	}

	switch strings.ToLower(proto) {
	case "unix", "local":
		if rest == "" {
			return "", "", fmt.Errorf("%w: %q has no socket path", consts.ErrInvalidListenAddress, spec)
		}
		return "unix", rest, nil
	case "inet":
		address, err = inetAddress(spec, rest)
		return "tcp4", address, err
	case "inet6":
		address, err = inetAddress(spec, rest)
		return "tcp6", address, err
	default:
		return "", "", fmt.Errorf("%w: unknown protocol %q in %q", consts.ErrInvalidListenAddress, proto, spec)
	}
}

func inetAddress(spec, rest string) (string, error) {
	port, host, _ := strings.Cut(rest, "@")
	n, err := strconv.Atoi(port)
	if err != nil || n < 0 || n > 65535 {
		return "", fmt.Errorf("%w: invalid port in %q", consts.ErrInvalidListenAddress, spec)
	}
	host = strings.TrimSuffix(strings.TrimPrefix(host, "["), "]")
	return net.JoinHostPort(host, port), nil
}
