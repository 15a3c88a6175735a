package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/civicledger/referendum-node/crypto/receipts"
	"github.com/civicledger/referendum-node/engine"
	"github.com/civicledger/referendum-node/storage"
	"github.com/civicledger/referendum-node/types"
)

// newVote handles POST /votes. The full submission pipeline runs in the
// engine; this handler only translates the outcome into the error catalog.
func (a *API) newVote(w http.ResponseWriter, r *http.Request) {
	req := &engine.Request{}
	if err := json.NewDecoder(r.Body).Decode(req); err != nil {
		ErrMalformedBody.WithErr(err).Write(w)
		return
	}
	res, err := a.engine.SubmitVote(r.Context(), req)
	if err != nil {
		writeSubmitError(w, err)
		return
	}
	httpWriteJSON(w, res)
}

// writeSubmitError maps the engine's sentinel errors onto the API catalog.
// Anything unmapped is the server's fault.
func writeSubmitError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, types.ErrNonceInvalid):
		ErrNonceInvalid.WithErr(err).Write(w)
	case errors.Is(err, types.ErrPollInactive):
		ErrPollInactive.WithErr(err).Write(w)
	case errors.Is(err, types.ErrOptionInvalid):
		ErrOptionInvalid.WithErr(err).Write(w)
	case errors.Is(err, types.ErrIneligible):
		ErrIneligible.WithErr(err).Write(w)
	case errors.Is(err, types.ErrNullifierMismatch):
		ErrNullifierMismatch.Write(w)
	case errors.Is(err, types.ErrAlreadyVoted):
		ErrAlreadyVoted.Write(w)
	case errors.Is(err, types.ErrNotFound):
		ErrPollNotFound.WithErr(err).Write(w)
	case errors.Is(err, types.ErrBackingStoreUnavailable):
		ErrStorageUnavailable.WithErr(err).Write(w)
	default:
		// Credential failures and everything else.
		var apiErr Error
		if errors.As(err, &apiErr) {
			apiErr.Write(w)
			return
		}
		ErrInvalidCredential.WithErr(err).Write(w)
	}
}

// voteStatus handles GET /votes/{pollId}/{voteId}: self-service check that
// a ballot landed, by its public vote id.
func (a *API) voteStatus(w http.ResponseWriter, r *http.Request) {
	pollID := chi.URLParam(r, PollURLParam)
	voteID := chi.URLParam(r, VoteIDURLParam)
	if pollID == "" || voteID == "" {
		ErrMalformedParam.Write(w)
		return
	}
	vote, err := a.storage.Vote(pollID, voteID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			ErrVoteNotFound.Write(w)
			return
		}
		ErrGenericInternalServerError.WithErr(err).Write(w)
		return
	}
	httpWriteJSON(w, map[string]any{
		"voteId":   vote.VoteID,
		"pollId":   vote.PollID,
		"seq":      vote.Seq,
		"leaf":     vote.Leaf.String(),
		"bucketTs": vote.BucketTS,
		"status":   "accepted",
	})
}

// receiptKey handles GET /votes/receipt-key: the PEM public key an external
// verifier needs to check receipts offline.
func (a *API) receiptKey(w http.ResponseWriter, _ *http.Request) {
	pemKey, err := a.signer.PublicKeyPEM()
	if err != nil {
		ErrGenericInternalServerError.WithErr(err).Write(w)
		return
	}
	w.Header().Set("Content-Type", "application/x-pem-file")
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(pemKey); err != nil {
		return
	}
}

// verifyReceipt handles POST /votes/verify-receipt. The verdict separates
// the raw signature check from the envelope check, echoes the payload the
// verdict applies to, and, when the receipt's root has been committed to the
// external ledger, includes the matching anchor record.
func (a *API) verifyReceipt(w http.ResponseWriter, r *http.Request) {
	receipt := &receipts.SignedReceipt{}
	if err := json.NewDecoder(r.Body).Decode(receipt); err != nil {
		ErrMalformedReceipt.WithErr(err).Write(w)
		return
	}
	signatureValid := a.signer.VerifySignature(receipt)
	valid := signatureValid &&
		receipt.Version == receipts.Version &&
		receipt.Algorithm == receipts.Algorithm
	resp := map[string]any{
		"valid":          valid,
		"signatureValid": signatureValid,
		"payload":        receipt.Payload,
	}
	if valid {
		if anchor := a.anchorForRoot(receipt.Payload.PollID, receipt.Payload.MerkleRoot); anchor != nil {
			resp["onChainAnchor"] = anchor
		}
	}
	httpWriteJSON(w, resp)
}

// anchorForRoot returns the newest anchor of the poll matching rootHex, or
// nil when the root was never anchored.
func (a *API) anchorForRoot(pollID, rootHex string) *types.Anchor {
	anchors, err := a.storage.Anchors(pollID)
	if err != nil {
		return nil
	}
	for i := len(anchors) - 1; i >= 0; i-- {
		if anchors[i].Root.Hex() == rootHex {
			return anchors[i]
		}
	}
	return nil
}
