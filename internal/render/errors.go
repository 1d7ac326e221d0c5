package render

import "codeberg.org/mutker/gaugectl/internal/errors"

const (
	ErrInvalidParams    = errors.ErrorCode("render_invalid_params")
	ErrUnsupportedDatum = errors.ErrMalformedInput
)
