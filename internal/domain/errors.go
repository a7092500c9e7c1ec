package domain

import (
	"errors"
	"fmt"
)

var (
	ErrUnauthenticated = errors.New("not authenticated")
	ErrNotOnboarded    = errors.New("profile not onboarded")
	ErrNotFound        = errors.New("not found")
	ErrNetwork         = errors.New("network error")
	ErrConnection      = errors.New("realtime connection failed")
	ErrJoin            = errors.New("realtime join failed")
	ErrStaleSlot       = errors.New("session slot changed while opening")
	ErrNotReady        = errors.New("session not ready")
	ErrManagerClosed   = errors.New("session manager closed")
)

// NetworkError is a failed round-trip to the backend. Status is zero when no
// response was received.
type NetworkError struct {
	Op     string
	Status int
	Err    error
}

func (e *NetworkError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("%s: status %d: %v", e.Op, e.Status, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *NetworkError) Unwrap() []error { return []error{ErrNetwork, e.Err} }

// SessionError carries one of ErrConnection, ErrJoin, ErrStaleSlot or
// ErrNotReady as Kind, plus the cause.
type SessionError struct {
	Kind     error
	Feature  Feature
	Resource string
	Err      error
}

func (e *SessionError) Error() string {
	msg := fmt.Sprintf("%s session %q: %v", e.Feature, e.Resource, e.Kind)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *SessionError) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

func NewSessionError(kind error, feature Feature, resource string, err error) error {
	return &SessionError{Kind: kind, Feature: feature, Resource: resource, Err: err}
}

// UserVisible reports whether err should be shown to a person. Race-loser
// discards are handled internally.
func UserVisible(err error) bool {
	return err != nil && !errors.Is(err, ErrStaleSlot)
}
