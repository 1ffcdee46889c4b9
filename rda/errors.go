package rda

import (
	"errors"
	"fmt"
)

// Error classes.  Every error returned by the engine wraps exactly one of the first
// six, and service errors additionally wrap ErrBadRequest or ErrNotFound.
var (
	ErrInvalidShape            = errors.New("invalid shape")
	ErrGraphRegistrationFailed = errors.New("graph registration failed")
	ErrMetadataNotFound        = errors.New("metadata not found")
	ErrFetchExhausted          = errors.New("tile fetch retries exhausted")
	ErrUnsupportedMergeInput   = errors.New("unsupported merge input")
	ErrAoiDisjoint             = errors.New("area of interest does not intersect image")

	ErrBadRequest = errors.New("bad request")
	ErrNotFound   = errors.New("not found")
)

// ShapeError reports a shape parameter that is non-positive or malformed.
type ShapeError struct {
	Name   string
	Value  interface{}
	Reason string
}

func (e *ShapeError) Error() string {
	return fmt.Sprintf("invalid %s %v: %s", e.Name, e.Value, e.Reason)
}

func (e *ShapeError) Unwrap() error {
	return ErrInvalidShape
}

// ServiceError is a failed call to the graph registration or metadata service.
type ServiceError struct {
	Kind    error  // ErrGraphRegistrationFailed or ErrMetadataNotFound
	Class   error  // ErrBadRequest or ErrNotFound
	Op      string // e.g., "register", "metadata", "graph"
	ID      string // graph id, if known
	Status  int
	Message string
}

func (e *ServiceError) Error() string {
	msg := fmt.Sprintf("%s failed", e.Op)
	if e.ID != "" {
		msg += fmt.Sprintf(" for graph %s", e.ID)
	}
	if e.Status != 0 {
		msg += fmt.Sprintf(" (status %d)", e.Status)
	}
	if e.Message != "" {
		msg += ": " + e.Message
	}
	return msg
}

func (e *ServiceError) Unwrap() []error {
	var errs []error
	if e.Kind != nil {
		errs = append(errs, e.Kind)
	}
	if e.Class != nil {
		errs = append(errs, e.Class)
	}
	return errs
}

// FetchError is returned after all attempts to retrieve a tile have failed.
type FetchError struct {
	URL      string
	Status   int // last observed HTTP status, 0 if no response was received
	Attempts int
	Err      error // last underlying error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("request for %s failed after %d attempts, last status %d: %v",
		e.URL, e.Attempts, e.Status, e.Err)
}

func (e *FetchError) Unwrap() []error {
	if e.Err == nil {
		return []error{ErrFetchExhausted}
	}
	return []error{ErrFetchExhausted, e.Err}
}
