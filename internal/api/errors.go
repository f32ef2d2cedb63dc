package api

import (
	"errors"
	"net/http"

	"duck-ask/internal/domain"
)

// Stable error kinds sent to clients. They share the names of the
// record-level error kinds.
const (
	kindNotFound     = "NotFoundError"
	kindValidation   = string(domain.ErrorKindValidation)
	kindEmptyAnswer  = "EmptyAnswerError"
	kindInvalidState = "InvalidStateError"
	kindNotReady     = "NotReadyError"
	kindConflict     = "ConflictError"
	kindShape        = string(domain.ErrorKindShape)
	kindInternal     = "InternalError"
)

// ErrorBody is the JSON body of every error response.
type ErrorBody struct {
	Code    int    `json:"code"`
	Kind    string `json:"kind"`
	Message string `json:"message"`
	// State is set for InvalidStateError.
	State domain.ExecutionState `json:"state,omitempty"`
}

// errorBody maps domain errors to an HTTP status and body. Unknown errors
// become 500 and their text is not echoed.
func errorBody(err error) ErrorBody {
	var (
		notFound     *domain.NotFoundError
		validation   *domain.ValidationError
		emptyAnswer  *domain.EmptyAnswerError
		invalidState *domain.InvalidStateError
		notReady     *domain.NotReadyError
		conflict     *domain.ConflictError
		shape        *domain.ShapeError
	)

	switch {
	case errors.As(err, &notFound):
		return ErrorBody{Code: http.StatusNotFound, Kind: kindNotFound, Message: notFound.Message}
	case errors.As(err, &validation):
		return ErrorBody{Code: http.StatusBadRequest, Kind: kindValidation, Message: validation.Message}
	case errors.As(err, &emptyAnswer):
		return ErrorBody{Code: http.StatusBadRequest, Kind: kindEmptyAnswer, Message: emptyAnswer.Message}
	case errors.As(err, &invalidState):
		return ErrorBody{Code: http.StatusConflict, Kind: kindInvalidState, Message: invalidState.Message, State: invalidState.State}
	case errors.As(err, &notReady):
		return ErrorBody{Code: http.StatusConflict, Kind: kindNotReady, Message: notReady.Message}
	case errors.As(err, &conflict):
		return ErrorBody{Code: http.StatusConflict, Kind: kindConflict, Message: conflict.Message}
	case errors.As(err, &shape):
		return ErrorBody{Code: http.StatusUnprocessableEntity, Kind: kindShape, Message: shape.Message}
	default:
		return ErrorBody{Code: http.StatusInternalServerError, Kind: kindInternal, Message: "internal error"}
	}
}
