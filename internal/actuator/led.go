package actuator

import (
	"context"
	"io"
	"sync/atomic"

	"codeberg.org/mutker/gaugectl/internal/errors"
	"codeberg.org/mutker/gaugectl/internal/render"
)

// LEDRing encodes frames in WS2812 wire order (green, red, blue) and writes
// each frame to w in a single call. One frame is on the wire at a time; a
// writer waiting for the link gives up when its ctx is done.
type LEDRing struct {
	w      io.Writer
	buf    []byte
	frames atomic.Int64
	slot   chan struct{}
}

func NewLEDRing(w io.Writer) *LEDRing {
	return &LEDRing{w: w, slot: make(chan struct{}, 1)}
}

func (l *LEDRing) Write(ctx context.Context, cells []render.Color) error {
	errFactory := errors.New()

	if err := ctx.Err(); err != nil {
		return errFactory.Wrap(ErrMoveAborted, err)
	}

	select {
	case l.slot <- struct{}{}:
	case <-ctx.Done():
		return errFactory.Wrap(ErrMoveAborted, ctx.Err())
	}
	defer func() { <-l.slot }()

	l.buf = EncodeGRB(l.buf[:0], cells)
	if _, err := l.w.Write(l.buf); err != nil {
		return errFactory.Wrap(ErrLEDWrite, err)
	}
	l.frames.Add(1)

	return nil
}

// Frames returns how many frames were transmitted.
func (l *LEDRing) Frames() int {
	return int(l.frames.Load())
}

// EncodeGRB appends the wire encoding of cells to dst.
func EncodeGRB(dst []byte, cells []render.Color) []byte {
	for _, c := range cells {
		dst = append(dst, c.G, c.R, c.B)
	}

	return dst
}
