// Package rpc provides the shared HTTP/JSON transport every component uses
// as its typed RPC surface: a chi-based server with a common middleware
// stack, a timeout-aware client, and the voterId-as-metadata convention.
package rpc

import (
	"encoding/json"
	"net/http"

	"github.com/electoral-net/votepipeline/verrors"
)

// Error is the wire representation of a failure: a stable numeric code
// plus an HTTP status. New codes are only ever appended, never renumbered.
type Error struct {
	Code       int    `json:"code"`
	Message    string `json:"message"`
	HTTPStatus int    `json:"-"`
}

func (e *Error) Error() string { return e.Message }

// Known error codes. 4xxx are caller mistakes, 5xxx are this component's
// fault.
var (
	ErrMalformedBody   = &Error{Code: 4001, HTTPStatus: http.StatusBadRequest, Message: "malformed JSON body"}
	ErrDuplicateVote   = &Error{Code: 4002, HTTPStatus: http.StatusConflict, Message: "duplicate vote"}
	ErrQueueFull       = &Error{Code: 4003, HTTPStatus: http.StatusServiceUnavailable, Message: "queue full"}
	ErrCircuitOpen     = &Error{Code: 4004, HTTPStatus: http.StatusServiceUnavailable, Message: "circuit open"}
	ErrNotFound        = &Error{Code: 4005, HTTPStatus: http.StatusNotFound, Message: "not found"}
	ErrQueryTimeout    = &Error{Code: 5001, HTTPStatus: http.StatusGatewayTimeout, Message: "query timeout"}
	ErrDBConnection    = &Error{Code: 5002, HTTPStatus: http.StatusBadGateway, Message: "db connection unavailable"}
	ErrStorage         = &Error{Code: 5003, HTTPStatus: http.StatusInternalServerError, Message: "storage error"}
	ErrInternal        = &Error{Code: 5999, HTTPStatus: http.StatusInternalServerError, Message: "internal error"}
)

// ClassifyError maps a verrors kind (or any other error) onto the wire
// Error used to render the HTTP response.
func ClassifyError(err error) *Error {
	switch e := err.(type) {
	case *Error:
		return e
	case *verrors.DuplicateVoteError:
		return withMessage(ErrDuplicateVote, err.Error())
	case *verrors.QueueFullError:
		return withMessage(ErrQueueFull, err.Error())
	case *verrors.CircuitOpenError:
		return withMessage(ErrCircuitOpen, err.Error())
	case *verrors.QueryTimeoutError:
		return withMessage(ErrQueryTimeout, err.Error())
	case *verrors.DBConnectionError:
		return withMessage(ErrDBConnection, err.Error())
	case *verrors.StorageError:
		return withMessage(ErrStorage, err.Error())
	default:
		return withMessage(ErrInternal, err.Error())
	}
}

func withMessage(base *Error, msg string) *Error {
	return &Error{Code: base.Code, HTTPStatus: base.HTTPStatus, Message: msg}
}

// WriteError writes err to w as a JSON Error body with the matching HTTP
// status.
func WriteError(w http.ResponseWriter, err error) {
	wireErr := ClassifyError(err)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(wireErr.HTTPStatus)
	_ = json.NewEncoder(w).Encode(wireErr)
}
