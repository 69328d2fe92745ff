// Package serialport reads a serial device one byte at a time.
package serialport

import (
	"errors"
	"fmt"
	"io"
	"os"
	"sync/atomic"
	"time"

	"github.com/tarm/serial"
)

const (
	DefaultDevice = "/dev/ttyUSB0"
	DefaultBaud   = 115200

	// defaultPoll bounds how long a read waits before the port checks
	// whether it was closed or the device vanished.
	defaultPoll = 200 * time.Millisecond
)

// ErrDeviceGone is returned when the device node disappears, e.g. when a USB
// adapter is unplugged.
var ErrDeviceGone = errors.New("serial device disappeared")

// Config holds serial port configuration
type Config struct {
	Device string
	Baud   int
	// Poll is the read timeout used internally to notice Close and device
	// removal. ReadByte itself never times out.
	Poll time.Duration
}

func (c Config) withDefaults() Config {
	if c.Device == "" {
		c.Device = DefaultDevice
	}
	if c.Baud == 0 {
		c.Baud = DefaultBaud
	}
	if c.Poll <= 0 {
		c.Poll = defaultPoll
	}
	return c
}

// Port is an open serial device. It implements io.ByteReader.
type Port struct {
	rc     io.ReadCloser
	name   string
	exists func(string) bool
	closed atomic.Bool
	buf    [1]byte
}

// Open opens the device in 8N1 mode.
func Open(cfg Config) (*Port, error) {
	cfg = cfg.withDefaults()
	sp, err := serial.OpenPort(&serial.Config{
		Name:        cfg.Device,
		Baud:        cfg.Baud,
		ReadTimeout: cfg.Poll,
		Size:        8,
		Parity:      serial.ParityNone,
		StopBits:    serial.Stop1,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open serial port %s: %w", cfg.Device, err)
	}
	return newPort(sp, cfg.Device), nil
}

func newPort(rc io.ReadCloser, name string) *Port {
	return &Port{
		rc:   rc,
		name: name,
		exists: func(path string) bool {
			_, err := os.Stat(path)
			return err == nil
		},
	}
}

// Name returns the device path.
func (p *Port) Name() string {
	return p.name
}

// ReadByte blocks until one byte arrives. Poll timeouts are retried; after
// Close it returns os.ErrClosed.
func (p *Port) ReadByte() (byte, error) {
	for {
		if p.closed.Load() {
			return 0, os.ErrClosed
		}
		n, err := p.rc.Read(p.buf[:])
		if n == 1 {
			return p.buf[0], nil
		}
		if p.closed.Load() {
			return 0, os.ErrClosed
		}
		// An expired read timeout shows up as (0, nil) or (0, io.EOF).
		if err != nil && !errors.Is(err, io.EOF) {
			return 0, fmt.Errorf("failed to read %s: %w", p.name, err)
		}
		if !p.exists(p.name) {
			return 0, fmt.Errorf("%s: %w", p.name, ErrDeviceGone)
		}
	}
}

// Close releases the device. A pending ReadByte returns within one poll
// interval.
func (p *Port) Close() error {
	if p.closed.Swap(true) {
		return nil
	}
	return p.rc.Close()
}
