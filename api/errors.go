package api

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/civicledger/referendum-node/log"
)

// Error is the API error envelope. It satisfies the error interface and
// knows how to write itself as a JSON response with the right HTTP status.
type Error struct {
	Err        error
	Code       int
	HTTPstatus int
}

// MarshalJSON returns a JSON containing Err.Error() and Code. Field names
// are lowercase; the HTTP status goes on the wire as the status line, not
// the body.
func (e Error) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Err  string `json:"error"`
		Code int    `json:"code"`
	}{
		Err:  e.Err.Error(),
		Code: e.Code,
	})
}

// Error returns the Err field of the Error struct.
func (e Error) Error() string {
	return e.Err.Error()
}

// Write serializes a JSON msg using e.Err and e.Code and passes that to
// the response writer with e.HTTPstatus.
func (e Error) Write(w http.ResponseWriter) {
	msg, err := json.Marshal(e)
	if err != nil {
		log.Warnw("marshal failed", "error", err)
		http.Error(w, "marshal failed", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(e.HTTPstatus)
	if _, err := w.Write(msg); err != nil {
		log.Warnw("failed to write error response", "error", err)
	}
}

// Withf returns a copy of Error with the Sprintf formatted string appended
// at the end of e.Err.
func (e Error) Withf(format string, args ...any) Error {
	return Error{
		Err:        fmt.Errorf("%w: %v", e.Err, fmt.Sprintf(format, args...)),
		Code:       e.Code,
		HTTPstatus: e.HTTPstatus,
	}
}

// WithErr returns a copy of Error with the passed err appended at the end
// of e.Err.
func (e Error) WithErr(err error) Error {
	return Error{
		Err:        fmt.Errorf("%w: %v", e.Err, err),
		Code:       e.Code,
		HTTPstatus: e.HTTPstatus,
	}
}
