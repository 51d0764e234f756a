package ai

import (
	"errors"
	"fmt"
)

var (
	// ErrBuild is the sentinel every BuildError matches
	ErrBuild = errors.New("cannot build provider request")
	// ErrImageRequired means the capability needs an image and none was supplied
	ErrImageRequired = errors.New("image required")
	// ErrImageLoad means a locally stored image could not be read
	ErrImageLoad = errors.New("image could not be loaded")
)

// BuildError reports a request that could not be assembled
type BuildError struct {
	Capability Capability
	Err        error
}

func (e *BuildError) Error() string {
	return fmt.Sprintf("build %s request: %v", e.Capability, e.Err)
}

func (e *BuildError) Unwrap() []error {
	return []error{ErrBuild, e.Err}
}

// ErrorKind classifies provider failures
type ErrorKind string

const (
	KindUpstream     ErrorKind = "upstream"
	KindTimeout      ErrorKind = "timeout"
	KindUnauthorized ErrorKind = "unauthorized"
)

// ProviderError is returned by the provider client for any failed call
type ProviderError struct {
	Kind       ErrorKind
	StatusCode int
	Message    string
	Err        error
}

func (e *ProviderError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("provider %s (status %d): %s", e.Kind, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("provider %s: %s", e.Kind, e.Message)
}

func (e *ProviderError) Unwrap() error {
	return e.Err
}

// IsKind reports whether err is a ProviderError of the given kind
func IsKind(err error, kind ErrorKind) bool {
	var perr *ProviderError
	return errors.As(err, &perr) && perr.Kind == kind
}
