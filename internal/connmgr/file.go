package connmgr

import (
	"os"
	"time"
)

// fileTransport wraps a connected RFCOMM socket handed over as a file.
type fileTransport struct {
	f *os.File
	// onClose runs after the file is closed, e.g. to drop the profile
	// connection in bluetoothd.
	onClose func()
}

func (t *fileTransport) Write(p []byte) (int, error) { return t.f.Write(p) }

// Flush is a no-op: writes go straight to the socket.
func (t *fileTransport) Flush() error { return nil }

func (t *fileTransport) SetWriteDeadline(d time.Time) error { return t.f.SetWriteDeadline(d) }

func (t *fileTransport) Close() error {
	err := t.f.Close()
	if t.onClose != nil {
		t.onClose()
	}
	return err
}
