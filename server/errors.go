package server

import (
	"errors"
	"io"
	"net"
	"os"
	"strings"
	"syscall"
)

// IsConnectionError checks if an error is a common, non-fatal network connection error.
// The milter server uses it to tell a closed listener apart from a real failure.
func IsConnectionError(err error) bool {
	if err == nil {
		return false
	}

	var netErr net.Error
	var opErr *net.OpError
	var syscallErr *os.SyscallError

	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	if errors.As(err, &opErr) {
		if errors.Is(opErr.Err, syscall.ECONNRESET) {
			return true
		}
		if strings.Contains(opErr.Err.Error(), "use of closed network connection") {
			return true
		}
	}

	if errors.As(err, &syscallErr) {
		if errors.Is(syscallErr.Err, syscall.ECONNRESET) || errors.Is(syscallErr.Err, syscall.EPIPE) {
			return true
		}
	}

	// MTA hung up between messages
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return true
	}

	return errors.Is(err, net.ErrClosed)
}
