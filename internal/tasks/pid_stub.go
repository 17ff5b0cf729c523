//go:build !unix

package tasks

import "fmt"

func pidAlive(pid int) (bool, error) {
	return false, fmt.Errorf("pidfile probe not supported on this platform")
}
