package domain

import "errors"

// Errors that reject a turn before any generation happens.
var (
	ErrNotAuthorized = errors.New("not authorized")
	ErrValidation    = errors.New("invalid request")
	ErrRateLimited   = errors.New("rate limited")
	ErrRegistryInit  = errors.New("tool registry initialization failed")
)

// Errors that occur inside a running turn. None of them escape as a
// transport failure; each ends the turn with a finish event.
var (
	ErrToolInvocation = errors.New("tool invocation failed")
	ErrStepLimit      = errors.New("step limit exceeded")
	ErrUpstreamModel  = errors.New("upstream model error")
	ErrPersistence    = errors.New("persistence failed")
	ErrCancelled      = errors.New("turn cancelled")
)

// ErrStore wraps conversation store failures other than authorization.
var ErrStore = errors.New("conversation store error")

// ErrNotFound is returned by stores for missing records.
var ErrNotFound = errors.New("not found")
