//go:build linux

package serial

import (
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

// rawPort is a termios-tuned serial backend that talks to the device
// fd directly instead of going through tarm/serial. Grounded on the
// raw-mode open sequence in AndySze-klipper's pkg/serial/serial.go,
// trimmed to the Klipper-relevant subset: 8N1, no flow control, no
// line buffering, character-at-a-time reads.
type rawPort struct {
	f *os.File
}

func openRaw(cfg *Config) (Port, error) {
	fd, err := unix.Open(cfg.Device, unix.O_RDWR|unix.O_NOCTTY, 0)
	if err != nil {
		return nil, fmt.Errorf("serial: open %s: %w", cfg.Device, err)
	}

	t, err := unix.IoctlGetTermios(fd, unix.TCGETS)
	if err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("serial: get termios: %w", err)
	}

	t.Iflag &^= unix.IGNBRK | unix.BRKINT | unix.PARMRK | unix.ISTRIP |
		unix.INLCR | unix.IGNCR | unix.ICRNL | unix.IXON | unix.IXOFF | unix.IXANY
	t.Oflag &^= unix.OPOST
	t.Cflag &^= unix.CSIZE | unix.PARENB | unix.PARODD | unix.CSTOPB
	t.Cflag |= unix.CS8 | unix.CREAD | unix.CLOCAL
	t.Lflag &^= unix.ECHO | unix.ECHONL | unix.ICANON | unix.ISIG | unix.IEXTEN
	t.Cc[unix.VMIN] = 1
	t.Cc[unix.VTIME] = 0

	if err := setBaud(t, cfg.Baud); err != nil {
		unix.Close(fd)
		return nil, err
	}

	if err := unix.IoctlSetTermios(fd, unix.TCSETS, t); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("serial: set termios: %w", err)
	}

	return &rawPort{f: os.NewFile(uintptr(fd), cfg.Device)}, nil
}

func (p *rawPort) Read(b []byte) (int, error)  { return p.f.Read(b) }
func (p *rawPort) Write(b []byte) (int, error) { return p.f.Write(b) }
func (p *rawPort) Close() error                { return p.f.Close() }
func (p *rawPort) Flush() error                { return unix.IoctlSetInt(int(p.f.Fd()), unix.TCFLSH, unix.TCIOFLUSH) }

func setBaud(t *unix.Termios, baud int) error {
	speed, ok := map[int]uint32{
		9600:    unix.B9600,
		19200:   unix.B19200,
		38400:   unix.B38400,
		57600:   unix.B57600,
		115200:  unix.B115200,
		230400:  unix.B230400,
		250000:  unix.BOTHER,
		460800:  unix.B460800,
		500000:  unix.B500000,
		921600:  unix.B921600,
		1000000: unix.B1000000,
		2000000: unix.B2000000,
	}[baud]
	if !ok {
		return fmt.Errorf("serial: unsupported baud rate %d", baud)
	}
	t.Ispeed = speed
	t.Ospeed = speed
	if speed == unix.BOTHER {
		t.Ispeed = uint32(baud)
		t.Ospeed = uint32(baud)
	}
	t.Cflag &^= unix.CBAUD | unix.CBAUDEX
	t.Cflag |= speed
	return nil
}
