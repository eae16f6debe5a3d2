//go:build !linux && !darwin

package sink

import "errors"

func freeSpace(string) (uint64, error) {
	return 0, errors.New("free space is unknown on this platform")
}
