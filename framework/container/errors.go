package container

import "github.com/pkg/errors"

var (
	ErrNilBean         = errors.New("container: cannot register a nil bean")
	ErrNameExists      = errors.New("container: bean name already registered")
	ErrNotFound        = errors.New("container: bean not found")
	ErrNotUnique       = errors.New("container: bean not unique")
	ErrAlreadyResolved = errors.New("container: context already resolved")
	ErrClosed          = errors.New("container: context closed")
	ErrConfigRequired  = errors.New("container: required configuration missing")
	ErrInvalidField    = errors.New("container: invalid injection field")
)
