//go:build linux

package connmgr

import (
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

// newFDTransport takes ownership of a connected RFCOMM socket. The fd is put
// in non-blocking mode so the runtime poller can enforce write deadlines.
func newFDTransport(fd int, name string, onClose func()) (*fileTransport, error) {
	if err := unix.SetNonblock(fd, true); err != nil {
		_ = unix.Close(fd)
		return nil, fmt.Errorf("connmgr: set nonblock: %w", err)
	}
	return &fileTransport{f: os.NewFile(uintptr(fd), name), onClose: onClose}, nil
}
