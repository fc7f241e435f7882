//go:build linux

package gpio

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/warthog618/go-gpiocdev"
)

// RealBank requests lines from actual hardware using the Linux GPIO
// character device.
type RealBank struct {
	chip *gpiocdev.Chip

	mu    sync.Mutex
	lines map[int]*gpiocdev.Line
}

// NewRealBank opens the named chip, e.g. "gpiochip0".
func NewRealBank(chipName string) (*RealBank, error) {
	chip, err := gpiocdev.NewChip(chipName)
	if err != nil {
		return nil, fmt.Errorf("open gpio chip %s: %w", chipName, err)
	}
	return &RealBank{
		chip:  chip,
		lines: make(map[int]*gpiocdev.Line),
	}, nil
}

// WatchEdges requests pin with rising edge detection. The kernel timestamps
// and queues edges; gpiocdev delivers them to onEdge from its watcher
// goroutine in order.
func (b *RealBank) WatchEdges(pin int, cfg LineConfig, onEdge func()) error {
	opts := append(inputOptions(cfg),
		gpiocdev.WithRisingEdge,
		gpiocdev.WithEventHandler(func(gpiocdev.LineEvent) { onEdge() }),
	)
	_, err := b.request(pin, opts)
	return err
}

// Input requests pin as a plain input.
func (b *RealBank) Input(pin int, cfg LineConfig) (Level, error) {
	line, err := b.request(pin, inputOptions(cfg))
	if err != nil {
		return nil, err
	}
	return line, nil
}

func (b *RealBank) request(pin int, opts []gpiocdev.LineReqOption) (*gpiocdev.Line, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, ok := b.lines[pin]; ok {
		return nil, fmt.Errorf("request pin %d: %w", pin, ErrPinClaimed)
	}
	line, err := b.chip.RequestLine(pin, opts...)
	if err != nil {
		return nil, fmt.Errorf("request pin %d: %w", pin, err)
	}
	b.lines[pin] = line
	return line, nil
}

func inputOptions(cfg LineConfig) []gpiocdev.LineReqOption {
	opts := []gpiocdev.LineReqOption{gpiocdev.AsInput}
	switch cfg.Pull {
	case PullUp:
		opts = append(opts, gpiocdev.WithPullUp)
	case PullNone:
		opts = append(opts, gpiocdev.WithBiasDisabled)
	default:
		opts = append(opts, gpiocdev.WithPullDown)
	}
	if cfg.Debounce > 0 {
		opts = append(opts, gpiocdev.WithDebounce(cfg.Debounce))
	}
	return opts
}

// Close releases GPIO resources.
// Reconfigures lines to input with pull-down (matching Pi boot defaults)
// before closing to ensure clean state for system shutdown/reboot.
func (b *RealBank) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	pins := make([]int, 0, len(b.lines))
	for pin := range b.lines {
		pins = append(pins, pin)
	}
	sort.Ints(pins)

	var errs []error
	for _, pin := range pins {
		line := b.lines[pin]
		if err := line.Reconfigure(gpiocdev.AsInput, gpiocdev.WithPullDown); err != nil {
			errs = append(errs, fmt.Errorf("reconfigure pin %d: %w", pin, err))
		}
		if err := line.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close pin %d: %w", pin, err))
		}
		delete(b.lines, pin)
	}
	if b.chip != nil {
		if err := b.chip.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close chip: %w", err))
		}
		b.chip = nil
	}
	return errors.Join(errs...)
}
