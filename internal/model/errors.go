package model

import (
	"errors"
	"fmt"
)

// ErrHandleClosed is returned by operations on a released device handle
var ErrHandleClosed = errors.New("device handle closed")

// ConnectionError reports an endpoint that could not be opened
type ConnectionError struct {
	Port string
	Err  error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("failed to open %s: %v", e.Port, e.Err)
}

func (e *ConnectionError) Unwrap() error {
	return e.Err
}

// ConfigError reports an invalid configuration value such as an unknown mode
type ConfigError struct {
	Field  string
	Value  string
	Reason string
	Err    error
}

func (e *ConfigError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("invalid %s %q: %s: %v", e.Field, e.Value, e.Reason, e.Err)
	}
	return fmt.Sprintf("invalid %s %q: %s", e.Field, e.Value, e.Reason)
}

func (e *ConfigError) Unwrap() error {
	return e.Err
}

// ParseError reports a reply that was not numeric, even after the retry
type ParseError struct {
	Port  string
	Reply string
	Err   error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("unparseable reply from %s: %q: %v", e.Port, e.Reply, e.Err)
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

// RangeError reports a per-device range list that does not match the device count
type RangeError struct {
	Got  int
	Want int
}

func (e *RangeError) Error() string {
	return fmt.Sprintf("range list has %d values for %d devices", e.Got, e.Want)
}

// ReadError locates a failed read inside a sampling run
type ReadError struct {
	Tick   int
	Device int
	Err    error
}

func (e *ReadError) Error() string {
	return fmt.Sprintf("tick %d: device %d: %v", e.Tick, e.Device, e.Err)
}

func (e *ReadError) Unwrap() error {
	return e.Err
}
