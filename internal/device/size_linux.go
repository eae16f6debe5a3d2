//go:build linux

package device

import (
	"os"
	"unsafe"

	"golang.org/x/sys/unix"
)

// deviceSize asks the kernel for the size of a block device
func deviceSize(file *os.File) (uint64, error) {
	var size uint64
	_, _, errno := unix.Syscall(unix.SYS_IOCTL, file.Fd(), unix.BLKGETSIZE64, uintptr(unsafe.Pointer(&size)))
	if errno != 0 {
		return seekSize(file)
	}
	return size, nil
}
