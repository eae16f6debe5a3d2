//go:build !linux

package device

import "os"

func deviceSize(file *os.File) (uint64, error) {
	return seekSize(file)
}
