package storage

import (
	"github.com/pkg/errors"
)

// errors
var (
	ErrDoesNotExist = errors.New("object does not exist")
	ErrInvalidValue = errors.New("stored value is invalid")
	ErrLockTimeout  = errors.New("lock acquire timeout")

	ErrInvalidLockTimeout = errors.New("lock timeout must be shorter than the lock ttl")
)
