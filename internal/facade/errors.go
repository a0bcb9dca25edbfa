package facade

import (
	"github.com/pkg/errors"
)

// errors
var (
	ErrDoesNotExist = errors.New("object does not exist")
	ErrJoinRejected = errors.New("join rejected")
)
