package models

import (
	"errors"

	"github.com/go-playground/validator/v10"
	"github.com/mmdatafocus/closing_backend/utils"
)

var (
	ErrMalformedExtract         = errors.New("malformed settlement extract")
	ErrReconciliationInProgress = errors.New("reconciliation already in progress for this date")
	ErrAlreadyIngested          = errors.New("settlement extract already ingested for this date; clear the day first")
	ErrInvalidJustification     = errors.New("justification must have at least 10 characters")
	ErrAlreadyResolved          = errors.New("divergence already resolved")
	ErrNotFound                 = utils.ErrorRecordNotFound
	ErrResolverRequired         = errors.New("resolver identity is required")
	ErrInvalidDateRange         = errors.New("invalid date range")
	ErrEmptyBatch               = errors.New("at least one divergence id is required")
	ErrInvalidInput             = errors.New("invalid input")
)

// Error codes returned to clients next to the message, over REST and GraphQL alike.
const (
	CodeMalformedExtract         = "MALFORMED_EXTRACT"
	CodeInvalidJustification     = "INVALID_JUSTIFICATION"
	CodeInvalidDecision          = "INVALID_DECISION"
	CodeInvalidInput             = "INVALID_INPUT"
	CodeReconciliationInProgress = "RECONCILIATION_IN_PROGRESS"
	CodeAlreadyIngested          = "ALREADY_INGESTED"
	CodeAlreadyResolved          = "ALREADY_RESOLVED"
	CodeNotFound                 = "NOT_FOUND"
	CodeUnauthorized             = "UNAUTHORIZED"
	CodeInternal                 = "INTERNAL"
)

// ErrorCode classifies err for clients. Anything not recognised is CodeInternal.
func ErrorCode(err error) string {
	var validationErrors validator.ValidationErrors
	switch {
	case errors.Is(err, ErrMalformedExtract):
		return CodeMalformedExtract
	case errors.Is(err, ErrInvalidJustification):
		return CodeInvalidJustification
	case errors.Is(err, ErrInvalidDecision):
		return CodeInvalidDecision
	case errors.Is(err, utils.ErrInvalidDate), errors.Is(err, ErrInvalidDateRange), errors.Is(err, ErrEmptyBatch),
		errors.Is(err, ErrInvalidInput), errors.As(err, &validationErrors):
		return CodeInvalidInput
	case errors.Is(err, ErrReconciliationInProgress):
		return CodeReconciliationInProgress
	case errors.Is(err, ErrAlreadyIngested):
		return CodeAlreadyIngested
	case errors.Is(err, ErrAlreadyResolved):
		return CodeAlreadyResolved
	case errors.Is(err, ErrNotFound):
		return CodeNotFound
	case errors.Is(err, ErrResolverRequired):
		return CodeUnauthorized
	}
	return CodeInternal
}
