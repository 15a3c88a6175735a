package api

import (
	"fmt"
	"net/http"
)

// Error codes in the 40001-49999 range are the user's fault and return an
// HTTP 4xx status. Error codes 50001-59999 are the server's fault and
// return 5xx. Codes are append-only: never change or reuse an existing one,
// even when an error is retired.
var (
	ErrResourceNotFound        = Error{Code: 40001, HTTPstatus: http.StatusNotFound, Err: fmt.Errorf("resource not found")}
	ErrMalformedBody           = Error{Code: 40002, HTTPstatus: http.StatusBadRequest, Err: fmt.Errorf("malformed JSON body")}
	ErrMalformedParam          = Error{Code: 40003, HTTPstatus: http.StatusBadRequest, Err: fmt.Errorf("malformed parameter")}
	ErrNonceInvalid            = Error{Code: 40004, HTTPstatus: http.StatusBadRequest, Err: fmt.Errorf("nonce invalid or already consumed")}
	ErrUnknownNoncePurpose     = Error{Code: 40005, HTTPstatus: http.StatusBadRequest, Err: fmt.Errorf("unknown nonce purpose")}
	ErrInvalidCredential       = Error{Code: 40006, HTTPstatus: http.StatusUnauthorized, Err: fmt.Errorf("invalid voter credential")}
	ErrPollNotFound            = Error{Code: 40007, HTTPstatus: http.StatusNotFound, Err: fmt.Errorf("poll not found")}
	ErrPollInactive            = Error{Code: 40008, HTTPstatus: http.StatusBadRequest, Err: fmt.Errorf("poll is not accepting votes")}
	ErrOptionInvalid           = Error{Code: 40009, HTTPstatus: http.StatusBadRequest, Err: fmt.Errorf("option does not belong to poll")}
	ErrIneligible              = Error{Code: 40010, HTTPstatus: http.StatusForbidden, Err: fmt.Errorf("voter does not match poll audience")}
	ErrNullifierMismatch       = Error{Code: 40011, HTTPstatus: http.StatusBadRequest, Err: fmt.Errorf("client nullifier does not match server derivation")}
	ErrAlreadyVoted            = Error{Code: 40012, HTTPstatus: http.StatusConflict, Err: fmt.Errorf("ballot already cast for this poll")}
	ErrVoteNotFound            = Error{Code: 40013, HTTPstatus: http.StatusNotFound, Err: fmt.Errorf("vote not found")}
	ErrInferenceAttackSuspect  = Error{Code: 40014, HTTPstatus: http.StatusForbidden, Err: fmt.Errorf("query rejected: differencing attack suspected")}
	ErrUnknownDimension        = Error{Code: 40015, HTTPstatus: http.StatusBadRequest, Err: fmt.Errorf("unknown breakdown dimension")}
	ErrMalformedReceipt        = Error{Code: 40016, HTTPstatus: http.StatusBadRequest, Err: fmt.Errorf("malformed receipt")}

	ErrMarshalingServerJSONFailed = Error{Code: 50001, HTTPstatus: http.StatusInternalServerError, Err: fmt.Errorf("marshaling (server-side) JSON failed")}
	ErrGenericInternalServerError = Error{Code: 50002, HTTPstatus: http.StatusInternalServerError, Err: fmt.Errorf("internal server error")}
	ErrStorageUnavailable         = Error{Code: 50003, HTTPstatus: http.StatusServiceUnavailable, Err: fmt.Errorf("backing store unavailable")}
)
