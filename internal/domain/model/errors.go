package model

import (
	"errors"
	"fmt"
)

// ErrCrestron matches every error returned by the hub client.
var ErrCrestron = errors.New("crestron home")

// ConnectionError is a transport failure or timeout talking to the hub.
type ConnectionError struct {
	Op      string
	Timeout bool
	Err     error
}

func (e *ConnectionError) Error() string {
	if e.Timeout {
		return fmt.Sprintf("crestron home: %s: timeout", e.Op)
	}
	return fmt.Sprintf("crestron home: %s: connection error: %v", e.Op, e.Err)
}

func (e *ConnectionError) Unwrap() []error {
	if e.Err == nil {
		return []error{ErrCrestron}
	}
	return []error{ErrCrestron, e.Err}
}

// AuthError is a rejected login.
type AuthError struct {
	Status int
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("crestron home: authentication failed: %d", e.Status)
}

func (e *AuthError) Unwrap() error { return ErrCrestron }

// APIError is any other unsuccessful response, including a 401 after the
// single re-authentication retry.
type APIError struct {
	Method string
	Path   string
	Status int
}

func (e *APIError) Error() string {
	return fmt.Sprintf("crestron home: API request failed: %s %s - %d", e.Method, e.Path, e.Status)
}

func (e *APIError) Unwrap() error { return ErrCrestron }
