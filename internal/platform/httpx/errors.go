// Package httpx provides HTTP response utilities.
package httpx

import (
	"errors"
	"net/http"

	"github.com/odyssey-erp/stockledger/internal/shared"
)

// Problem types returned to clients.
const (
	TypeNotFound         = "https://stockledger.dev/problems/not-found"
	TypeValidation       = "https://stockledger.dev/problems/validation"
	TypeInvalidState     = "https://stockledger.dev/problems/invalid-state"
	TypeNothingToReverse = "https://stockledger.dev/problems/nothing-to-reverse"
	TypeConflict         = "https://stockledger.dev/problems/concurrency-conflict"
	TypeDuplicate        = "https://stockledger.dev/problems/duplicate-request"
)

// RespondError maps domain errors to HTTP responses using RFC7807.
func RespondError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, shared.ErrNotFound):
		ProblemType(w, http.StatusNotFound, TypeNotFound, "Not Found", err.Error())
	case errors.Is(err, shared.ErrValidation):
		ProblemType(w, http.StatusUnprocessableEntity, TypeValidation, "Validation Failed", err.Error())
	case errors.Is(err, shared.ErrInvalidState):
		ProblemType(w, http.StatusConflict, TypeInvalidState, "Invalid State", err.Error())
	case errors.Is(err, shared.ErrNothingToReverse):
		ProblemType(w, http.StatusConflict, TypeNothingToReverse, "Nothing To Reverse", err.Error())
	case errors.Is(err, shared.ErrConcurrencyConflict):
		w.Header().Set("Retry-After", "1")
		ProblemType(w, http.StatusConflict, TypeConflict, "Concurrency Conflict", err.Error())
	case errors.Is(err, shared.ErrIdempotencyConflict):
		ProblemType(w, http.StatusConflict, TypeDuplicate, "Duplicate Request", err.Error())
	default:
		Problem(w, http.StatusInternalServerError, "Internal Error", "")
	}
}
