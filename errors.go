package cfddns

import (
	"errors"
	"fmt"
)

// ErrInvalidInterval is wrapped by the ConfigError returned from ValidateInterval.
var ErrInvalidInterval = errors.New("interval out of range")

// ConfigError reports a missing or invalid configuration value.
// It is fatal at startup; during a pass it marks a single record as failed.
type ConfigError struct {
	Field string
	Msg   string
	Err   error
}

func (e *ConfigError) Error() string {
	msg := "config: " + e.Msg
	if e.Field != "" {
		msg = fmt.Sprintf("config: %s: %s", e.Field, e.Msg)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ConfigError) Unwrap() error { return e.Err }

func configErr(field, format string, args ...any) *ConfigError {
	return &ConfigError{Field: field, Msg: fmt.Sprintf(format, args...)}
}

// NetworkError reports a failure to reach the IP echo service or the DNS API.
type NetworkError struct {
	Op  string
	Err error
}

func (e *NetworkError) Error() string { return fmt.Sprintf("%s: %s", e.Op, e.Err) }

func (e *NetworkError) Unwrap() error { return e.Err }

// APIError reports a non-success response or an unreadable payload from the DNS provider.
type APIError struct {
	Op  string
	Err error
}

func (e *APIError) Error() string { return fmt.Sprintf("%s: %s", e.Op, e.Err) }

func (e *APIError) Unwrap() error { return e.Err }

// RecordNotFoundError is returned for a configured record that does not exist in the zone.
// Records are never created, so this always needs an operator to fix the zone or the config.
type RecordNotFoundError struct {
	Name string
	Type string
}

func (e *RecordNotFoundError) Error() string {
	return fmt.Sprintf("%s record %q not found in zone", e.Type, e.Name)
}
