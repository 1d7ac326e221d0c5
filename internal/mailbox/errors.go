package mailbox

import "codeberg.org/mutker/gaugectl/internal/errors"

const (
	ErrInvalidCapacity = errors.ErrorCode("mailbox_invalid_capacity")
	ErrReceiverTaken   = errors.ErrorCode("mailbox_receiver_taken")
	ErrStopped         = errors.ErrTaskStopped
)
