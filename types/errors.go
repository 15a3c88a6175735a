package types

import "errors"

// Operational errors of the vote ingestion and analytics paths. They are the
// machine-readable taxonomy returned to callers; the API layer maps them to
// numbered response codes. Anything not in this list is an internal failure
// and must not leak detail to the voter.
var (
	ErrNonceInvalid            = errors.New("nonce invalid")
	ErrPollInactive            = errors.New("poll is not accepting votes")
	ErrOptionInvalid           = errors.New("option does not belong to poll")
	ErrIneligible              = errors.New("voter not eligible for poll")
	ErrNullifierMismatch       = errors.New("client nullifier mismatch")
	ErrAlreadyVoted            = errors.New("already voted in this poll")
	ErrInferenceAttackSuspect  = errors.New("inference attack suspected")
	ErrNotFound                = errors.New("not found")
	ErrBackingStoreUnavailable = errors.New("backing store unavailable")
)
