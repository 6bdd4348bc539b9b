package connector

import (
	"errors"
	"fmt"
)

var (
	// ErrUnknownSourceType is wrapped by ConfigError when no connector is registered for a type.
	ErrUnknownSourceType = errors.New("unknown source type")
	// ErrMalformedResponse marks a response body that could not be decoded.
	ErrMalformedResponse = errors.New("malformed response")
)

// ConfigError reports a missing or invalid key in a source configuration blob.
type ConfigError struct {
	Type   string
	Key    string
	Reason string
	Err    error
}

func (e *ConfigError) Error() string {
	switch {
	case e.Key != "":
		return fmt.Sprintf("invalid %s config: %s: %s", e.Type, e.Key, e.Reason)
	case e.Reason != "":
		return fmt.Sprintf("invalid %s config: %s", e.Type, e.Reason)
	default:
		return fmt.Sprintf("invalid %s config: %v", e.Type, e.Err)
	}
}

func (e *ConfigError) Unwrap() error {
	return e.Err
}

// IsConfigError reports whether err carries a ConfigError.
func IsConfigError(err error) bool {
	var cfgErr *ConfigError
	return errors.As(err, &cfgErr)
}

// StatusError is returned for non-2xx responses.
type StatusError struct {
	Method string
	URL    string
	Status int
	Body   string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("%s %s: unexpected status %d", e.Method, e.URL, e.Status)
	}
	return fmt.Sprintf("%s %s: unexpected status %d: %s", e.Method, e.URL, e.Status, e.Body)
}
