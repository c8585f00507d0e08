//go:build unix

package pidfile

import (
	"errors"
	"fmt"
	"os"

	"github.com/migadu/milterfrom/consts"
	"golang.org/x/sys/unix"
)

// Create opens path, takes an exclusive lock on it and writes the current
// pid. It fails with consts.ErrPidFileLocked while another process holds it.
func Create(path string) (*PidFile, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0644)
	if err != nil {
		return nil, fmt.Errorf("could not open pid file: %w", err)
	}

	if err := unix.Flock(int(f.Fd()), unix.LOCK_EX|unix.LOCK_NB); err != nil {
		f.Close()
		if errors.Is(err, unix.EWOULDBLOCK) {
			if pid, rerr := readPid(path); rerr == nil {
				return nil, fmt.Errorf("%s held by pid %d: %w", path, pid, consts.ErrPidFileLocked)
			}
			return nil, fmt.Errorf("%s: %w", path, consts.ErrPidFileLocked)
		}
		return nil, fmt.Errorf("could not lock pid file %s: %w", path, err)
	}

	if err := writePid(f); err != nil {
		f.Close()
		return nil, fmt.Errorf("could not write pid file %s: %w", path, err)
	}

	return &PidFile{path: path, file: f}, nil
}
