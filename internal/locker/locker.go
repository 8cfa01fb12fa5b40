// Package locker drives a USB serial relay board that unlatches the equipment locker.
package locker

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.bug.st/serial"
)

// Port is the part of serial.Port the relay needs.
type Port interface {
	Write(p []byte) (int, error)
	Close() error
}

// Relay pulses one channel of an LCUS-style relay board. A Relay without a
// port is a no-op so kiosks without a locker need no special casing.
type Relay struct {
	mu      sync.Mutex
	port    Port
	channel byte
	pulse   time.Duration
	log     *slog.Logger
}

// Open connects to the relay on portName. An empty portName returns a no-op Relay.
func Open(portName string, baud int, channel int, pulse time.Duration, log *slog.Logger) (*Relay, error) {
	if log == nil {
		log = slog.Default()
	}
	if portName == "" {
		return &Relay{log: log}, nil
	}
	if channel < 1 || channel > 255 {
		return nil, fmt.Errorf("relay channel %d out of range", channel)
	}
	p, err := serial.Open(portName, &serial.Mode{BaudRate: baud})
	if err != nil {
		return nil, fmt.Errorf("open relay port %s: %w", portName, err)
	}
	return New(p, channel, pulse, log), nil
}

func New(p Port, channel int, pulse time.Duration, log *slog.Logger) *Relay {
	if log == nil {
		log = slog.Default()
	}
	return &Relay{port: p, channel: byte(channel), pulse: pulse, log: log}
}

// Enabled reports whether a physical relay is attached.
func (r *Relay) Enabled() bool { return r != nil && r.port != nil }

// Release energises the relay for the pulse duration. The relay is always
// switched off again, even when ctx ends early.
func (r *Relay) Release(ctx context.Context) error {
	if !r.Enabled() {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, err := r.port.Write(command(r.channel, true)); err != nil {
		return fmt.Errorf("relay on: %w", err)
	}
	r.log.Info("locker released", "channel", r.channel, "pulse", r.pulse)

	t := time.NewTimer(r.pulse)
	select {
	case <-t.C:
	case <-ctx.Done():
		t.Stop()
	}

	if _, err := r.port.Write(command(r.channel, false)); err != nil {
		return fmt.Errorf("relay off: %w", err)
	}
	return nil
}

func (r *Relay) Close() error {
	if !r.Enabled() {
		return nil
	}
	return r.port.Close()
}

// command frames one switch instruction: 0xA0, channel, state, checksum.
func command(channel byte, on bool) []byte {
	var state byte
	if on {
		state = 1
	}
	return []byte{0xA0, channel, state, 0xA0 + channel + state}
}

// Ports lists the serial ports present on this machine.
func Ports() ([]string, error) {
	return serial.GetPortsList()
}
