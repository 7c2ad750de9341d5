package serial

import (
	"fmt"

	bugst "go.bug.st/serial"

	"github.com/oshokin/alarm-relay/internal/config"
)

// Port is an open serial device. A read that times out returns 0 bytes and
// no error.
type Port interface {
	Read(p []byte) (int, error)
	Close() error
}

// Opener opens the device of a serial source.
type Opener func(src *config.SerialSource) (Port, error)

// OpenPort opens src.Port with the configured baud rate and read timeout.
//
//nolint:ireturn // Port is the seam used by tests.
func OpenPort(src *config.SerialSource) (Port, error) {
	port, err := bugst.Open(src.Port, &bugst.Mode{BaudRate: src.BaudRate})
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", src.Port, err)
	}

	timeout := src.ReadTimeout
	if timeout <= 0 {
		timeout = config.DefaultReadTimeout
	}

	if err = port.SetReadTimeout(timeout); err != nil {
		_ = port.Close()

		return nil, fmt.Errorf("set read timeout on %s: %w", src.Port, err)
	}

	return port, nil
}
