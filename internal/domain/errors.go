// Package domain defines core types, interfaces, and errors for the question-answering pipeline.
package domain

import "fmt"

// NotFoundError indicates a resource was not found.
type NotFoundError struct {
	Message string
}

func (e *NotFoundError) Error() string { return e.Message }

// ValidationError indicates invalid input.
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string { return e.Message }

// ConflictError indicates a conflict (e.g., duplicate resource).
type ConflictError struct {
	Message string
}

func (e *ConflictError) Error() string { return e.Message }

// InvalidStateError indicates the operation is not valid for the record's current state.
type InvalidStateError struct {
	Message string
	State   ExecutionState
}

func (e *InvalidStateError) Error() string { return e.Message }

// EmptyAnswerError indicates a clarification answer that trims to empty.
type EmptyAnswerError struct {
	Message string
}

func (e *EmptyAnswerError) Error() string { return e.Message }

// NotReadyError indicates a result was requested before the record completed.
type NotReadyError struct {
	Message string
}

func (e *NotReadyError) Error() string { return e.Message }

// ShapeError indicates a malformed result set.
type ShapeError struct {
	Message string
}

func (e *ShapeError) Error() string { return e.Message }

// ErrNotFound creates a NotFoundError with a formatted message.
func ErrNotFound(format string, args ...interface{}) *NotFoundError {
	return &NotFoundError{Message: fmt.Sprintf(format, args...)}
}

// ErrValidation creates a ValidationError with a formatted message.
func ErrValidation(format string, args ...interface{}) *ValidationError {
	return &ValidationError{Message: fmt.Sprintf(format, args...)}
}

// ErrConflict creates a ConflictError with a formatted message.
func ErrConflict(format string, args ...interface{}) *ConflictError {
	return &ConflictError{Message: fmt.Sprintf(format, args...)}
}

// ErrInvalidState creates an InvalidStateError for the given state.
func ErrInvalidState(state ExecutionState, format string, args ...interface{}) *InvalidStateError {
	return &InvalidStateError{Message: fmt.Sprintf(format, args...), State: state}
}

// ErrEmptyAnswer creates an EmptyAnswerError with a formatted message.
func ErrEmptyAnswer(format string, args ...interface{}) *EmptyAnswerError {
	return &EmptyAnswerError{Message: fmt.Sprintf(format, args...)}
}

// ErrNotReady creates a NotReadyError with a formatted message.
func ErrNotReady(format string, args ...interface{}) *NotReadyError {
	return &NotReadyError{Message: fmt.Sprintf(format, args...)}
}

// ErrShape creates a ShapeError with a formatted message.
func ErrShape(format string, args ...interface{}) *ShapeError {
	return &ShapeError{Message: fmt.Sprintf(format, args...)}
}

// ErrorKind is the stable classification attached to a failed record.
type ErrorKind string

// Record-level error kinds.
const (
	ErrorKindValidation                 ErrorKind = "ValidationError"
	ErrorKindInterpretation             ErrorKind = "InterpretationError"
	ErrorKindExecution                  ErrorKind = "ExecutionError"
	ErrorKindTimeout                    ErrorKind = "TimeoutError"
	ErrorKindShape                      ErrorKind = "ShapeError"
	ErrorKindCancelled                  ErrorKind = "Cancelled"
	ErrorKindClarificationLimitExceeded ErrorKind = "ClarificationLimitExceeded"
)

// PipelineError is the terminal error stored on a failed QueryExecutionRecord.
type PipelineError struct {
	Kind    ErrorKind `json:"kind"`
	Message string    `json:"message"`
}

func (e *PipelineError) Error() string { return string(e.Kind) + ": " + e.Message }

// NewPipelineError creates a PipelineError with a formatted message.
func NewPipelineError(kind ErrorKind, format string, args ...interface{}) *PipelineError {
	return &PipelineError{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// InterpretationError is returned by Interpreter implementations when the
// external language capability fails.
type InterpretationError struct {
	Message string
}

func (e *InterpretationError) Error() string { return e.Message }

// ExecutionError is returned by Executor implementations when running the
// generated query fails.
type ExecutionError struct {
	Message string
}

func (e *ExecutionError) Error() string { return e.Message }

// TimeoutError is returned when an external call exceeds its deadline.
type TimeoutError struct {
	Message string
}

func (e *TimeoutError) Error() string { return e.Message }

// ErrInterpretation creates an InterpretationError with a formatted message.
func ErrInterpretation(format string, args ...interface{}) *InterpretationError {
	return &InterpretationError{Message: fmt.Sprintf(format, args...)}
}

// ErrExecution creates an ExecutionError with a formatted message.
func ErrExecution(format string, args ...interface{}) *ExecutionError {
	return &ExecutionError{Message: fmt.Sprintf(format, args...)}
}

// ErrTimeout creates a TimeoutError with a formatted message.
func ErrTimeout(format string, args ...interface{}) *TimeoutError {
	return &TimeoutError{Message: fmt.Sprintf(format, args...)}
}
