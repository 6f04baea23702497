package domain

import "errors"

var (
	ErrChainNotFound    = errors.New("chain not found")
	ErrWorkflowNotFound = errors.New("workflow not found")
	ErrJobNotFound      = errors.New("job not found")
	ErrJobExists        = errors.New("job already exists")
)

// IsNotFound reports whether err is one of the lookup failures of this package.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrChainNotFound) || errors.Is(err, ErrWorkflowNotFound) || errors.Is(err, ErrJobNotFound)
}
