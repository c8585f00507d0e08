//go:build !unix

package main

import "fmt"

func detach() (bool, error) {
	return false, fmt.Errorf("daemonizing is not supported on this platform; use a service manager")
}
