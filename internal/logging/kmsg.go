package logging

import (
	"io"
	"os"
)

// kmsgPath is the character device the kernel exposes for userspace log
// injection. Writes to it show up in `dmesg` tagged with the writing
// process, which is where the coredump handler's own diagnostics need to
// land: by the time it runs, regular log collection may not be up yet.
const kmsgPath = "/dev/kmsg"

// KmsgWriter writes to /dev/kmsg, falling back to stderr if the device
// can't be opened (no permission, not running on Linux, containerized
// without /dev/kmsg mounted).
type KmsgWriter struct {
	dev io.WriteCloser
}

// NewKmsgWriter opens /dev/kmsg for writing. It never returns an error:
// if the device is unavailable the writer silently falls back to stderr
// on every Write.
func NewKmsgWriter() *KmsgWriter {
	dev, err := os.OpenFile(kmsgPath, os.O_WRONLY, 0)
	if err != nil {
		return &KmsgWriter{}
	}
	return &KmsgWriter{dev: dev}
}

func (k *KmsgWriter) Write(p []byte) (int, error) {
	if k.dev != nil {
		if n, err := k.dev.Write(p); err == nil {
			return n, nil
		}
	}
	return os.Stderr.Write(p)
}

// Close releases the kernel log device handle, if one was opened.
func (k *KmsgWriter) Close() error {
	if k.dev != nil {
		return k.dev.Close()
	}
	return nil
}
