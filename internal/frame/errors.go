package frame

import "github.com/pkg/errors"

// errors
var (
	ErrFrameTooShort      = errors.New("frame: frame is too short")
	ErrInvalidFOptsLength = errors.New("frame: FOpts length exceeds frame")
	ErrUnsupportedMType   = errors.New("frame: unsupported message type")
	ErrInvalidMHDR        = errors.New("frame: reserved MHDR bits must be zero")
	ErrInvalidJoinRequest = errors.New("frame: invalid join-request length")
	ErrFOptsTooLong       = errors.New("frame: FOpts must not exceed 15 bytes")
)
