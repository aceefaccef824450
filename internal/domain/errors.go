// Package domain provides shared domain-level sentinel errors.
package domain

import "errors"

// ErrNotFound indicates the requested entity does not exist.
var ErrNotFound = errors.New("not found")

// ErrConflict indicates a write was rejected because the entity changed
// underneath the caller or is already in a terminal state.
var ErrConflict = errors.New("conflict: resource was modified by another request")

// ErrValidation indicates the caller supplied invalid input.
var ErrValidation = errors.New("validation failed")

// ErrPending indicates the flow has not produced a result yet.
var ErrPending = errors.New("pending: flow has not finished")

// ErrFlowFailed indicates the flow ended in the failed state.
var ErrFlowFailed = errors.New("flow failed")

// ErrUnroutableInput indicates the classifier returned a route tag with no strategy.
var ErrUnroutableInput = errors.New("unroutable input")

// ErrConnection indicates the monitored database could not be reached.
var ErrConnection = errors.New("database connection error")

// ErrPermission indicates the database refused an action for lack of privilege.
var ErrPermission = errors.New("permission denied")

// ErrReasoning indicates the external reasoning service failed or returned garbage.
var ErrReasoning = errors.New("reasoning service error")

// ErrStepTimeout indicates a flow stage ran past its own deadline.
var ErrStepTimeout = errors.New("step timeout")
