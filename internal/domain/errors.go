package domain

import (
	"errors"
	"fmt"
)

// ErrorKind classifies evaluation failures.
type ErrorKind string

const (
	KindValidation  ErrorKind = "validation"
	KindContract    ErrorKind = "contract"
	KindComputation ErrorKind = "computation"
	KindEligibility ErrorKind = "eligibility"
)

// Sentinels matched with errors.Is against an EvalError of the same kind.
var (
	ErrValidation  = errors.New("validation error")
	ErrContract    = errors.New("contract error")
	ErrComputation = errors.New("computation error")
	ErrEligibility = errors.New("eligibility error")

	// ErrNoContracts is returned when an evaluation runs with no contract set loaded.
	ErrNoContracts = errors.New("no contracts loaded")
)

// EvalError is a classified error raised inside the rule pipeline.
type EvalError struct {
	Kind ErrorKind
	Op   string
	Err  error
}

func (e *EvalError) Error() string {
	if e.Op == "" {
		return e.Err.Error()
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *EvalError) Unwrap() error { return e.Err }

// Is matches the sentinel for the error's kind.
func (e *EvalError) Is(target error) bool {
	switch target {
	case ErrValidation:
		return e.Kind == KindValidation
	case ErrContract:
		return e.Kind == KindContract
	case ErrComputation:
		return e.Kind == KindComputation
	case ErrEligibility:
		return e.Kind == KindEligibility
	}
	return false
}

// NewValidationError reports invalid input.
func NewValidationError(op, msg string) error {
	return &EvalError{Kind: KindValidation, Op: op, Err: errors.New(msg)}
}

// NewContractError reports a malformed contract.
func NewContractError(op string, err error) error {
	return &EvalError{Kind: KindContract, Op: op, Err: err}
}

// NewComputationError reports a failed calculation.
func NewComputationError(op string, err error) error {
	return &EvalError{Kind: KindComputation, Op: op, Err: err}
}

// NewEligibilityError reports a failed eligibility check.
func NewEligibilityError(op string, err error) error {
	return &EvalError{Kind: KindEligibility, Op: op, Err: err}
}
