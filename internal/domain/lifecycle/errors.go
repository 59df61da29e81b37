package lifecycle

import "github.com/labdata/backend/internal/domain/shared"

// Domain error codes
const (
	CodeOperationInFlight = "OPERATION_IN_FLIGHT"
	CodeTotalsUnknown     = "TOTALS_UNKNOWN"
	CodeInvalidSlug       = "INVALID_SLUG"
)

var (
	ErrOperationInFlight = shared.NewDomainError(CodeOperationInFlight, "Project already has an operation in flight")
	ErrTotalsUnknown     = shared.NewDomainError(CodeTotalsUnknown, "Expected byte and file totals must be set before a transfer")
	ErrInvalidSlug       = shared.NewDomainError(CodeInvalidSlug, "Project slug must be 1-120 characters of a-z, 0-9 and '-'")
	ErrForeignOperation  = shared.NewDomainError("INVALID_INPUT", "Operation does not belong to this project")
)
