//go:build !unix

package pidfile

import (
	"fmt"
	"os"
)

// Create writes the current pid to path. No lock is taken on this platform.
func Create(path string) (*PidFile, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0644)
	if err != nil {
		return nil, fmt.Errorf("could not open pid file: %w", err)
	}
	if err := writePid(f); err != nil {
		f.Close()
		return nil, fmt.Errorf("could not write pid file %s: %w", path, err)
	}
	return &PidFile{path: path, file: f}, nil
}
