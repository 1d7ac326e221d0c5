package actuator

import (
	"io"
	"sync"

	"codeberg.org/mutker/gaugectl/internal/errors"
	"codeberg.org/mutker/gaugectl/internal/logger"
	"go.bug.st/serial"
)

const DefaultLEDBaudRate = 115200

type BoardConfig struct {
	Stepper StepperLimits
	// LEDPort is the serial device carrying LED frames. Empty discards
	// frames.
	LEDPort     string
	LEDBaudRate int
}

// Board is the host HAL: a simulated stepper and an LED ring on an optional
// serial link. Handles are created on first use and shared afterwards.
type Board struct {
	cfg     BoardConfig
	logger  logger.Logger
	stepper *SimStepper
	leds    *LEDRing
	link    io.Closer
	mu      sync.Mutex
}

func NewBoard(cfg BoardConfig, log logger.Logger) *Board {
	return &Board{cfg: cfg, logger: log}
}

func (b *Board) Stepper() (Stepper, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.stepper == nil {
		s, err := NewSimStepper(b.cfg.Stepper, b.logger)
		if err != nil {
			return nil, err
		}
		b.stepper = s
	}

	return b.stepper, nil
}

func (b *Board) LEDs() (LEDStrip, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.leds != nil {
		return b.leds, nil
	}

	if b.cfg.LEDPort == "" {
		b.logger.Debug().Msg("No LED port configured, discarding frames")
		b.leds = NewLEDRing(io.Discard)
		return b.leds, nil
	}

	link, err := OpenSerialLink(b.cfg.LEDPort, b.cfg.LEDBaudRate)
	if err != nil {
		return nil, err
	}

	b.logger.Info().Str("port", b.cfg.LEDPort).Msg("LED link opened")
	b.link = link
	b.leds = NewLEDRing(link)

	return b.leds, nil
}

// Close releases the LED link, if one was opened.
func (b *Board) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.link == nil {
		return nil
	}

	err := b.link.Close()
	b.link = nil
	if err != nil {
		return errors.New().Wrap(errors.ErrShutdownFailed, err)
	}

	return nil
}

// OpenSerialLink opens port for writing LED frames.
func OpenSerialLink(port string, baudRate int) (serial.Port, error) {
	if baudRate == 0 {
		baudRate = DefaultLEDBaudRate
	}

	p, err := serial.Open(port, &serial.Mode{BaudRate: baudRate})
	if err != nil {
		return nil, errors.New().Wrap(ErrOpenLink, err)
	}

	return p, nil
}
