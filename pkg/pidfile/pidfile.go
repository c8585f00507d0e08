// Package pidfile writes the daemon's process id to a locked file.
package pidfile

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

// PidFile is a pid file held open and locked for the lifetime of the process.
type PidFile struct {
	path string
	file *os.File
}

// Path returns the location of the pid file.
func (p *PidFile) Path() string { return p.path }

// Remove unlocks and deletes the pid file.
func (p *PidFile) Remove() error {
	if p == nil || p.file == nil {
		return nil
	}
	err := os.Remove(p.path)
	p.file.Close()
	p.file = nil
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove pid file %s: %w", p.path, err)
	}
	return nil
}

// readPid returns the pid stored in path.
func readPid(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return 0, fmt.Errorf("invalid pid file %s: %w", path, err)
	}
	return pid, nil
}

func writePid(f *os.File) error {
	if err := f.Truncate(0); err != nil {
		return err
	}
	if _, err := f.Seek(0, 0); err != nil {
		return err
	}
	if _, err := fmt.Fprintf(f, "%d\n", os.Getpid()); err != nil {
		return err
	}
	return f.Sync()
}
