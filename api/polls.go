package api

import (
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/civicledger/referendum-node/aggregator"
	"github.com/civicledger/referendum-node/storage"
	"github.com/civicledger/referendum-node/types"
)

// listPolls handles GET /polls.
func (a *API) listPolls(w http.ResponseWriter, _ *http.Request) {
	polls, err := a.storage.ListPolls()
	if err != nil {
		ErrGenericInternalServerError.WithErr(err).Write(w)
		return
	}
	httpWriteJSON(w, map[string]any{"polls": polls})
}

// poll handles GET /polls/{pollId}.
func (a *API) poll(w http.ResponseWriter, r *http.Request) {
	poll, ok := a.pollFromURL(w, r)
	if !ok {
		return
	}
	httpWriteJSON(w, poll)
}

// pollResults handles GET /polls/{pollId}/results?breakdownBy=gender,region.
// Results are shaped by the aggregator's k-anonymity rules.
func (a *API) pollResults(w http.ResponseWriter, r *http.Request) {
	poll, ok := a.pollFromURL(w, r)
	if !ok {
		return
	}
	var breakdownBy []string
	if raw := r.URL.Query().Get("breakdownBy"); raw != "" {
		breakdownBy = strings.Split(raw, ",")
	}
	results, err := a.aggregator.GetResults(poll.ID, breakdownBy)
	if err != nil {
		switch {
		case errors.Is(err, aggregator.ErrUnknownDimension):
			ErrUnknownDimension.WithErr(err).Write(w)
		case errors.Is(err, types.ErrInferenceAttackSuspect):
			ErrInferenceAttackSuspect.Write(w)
		default:
			ErrGenericInternalServerError.WithErr(err).Write(w)
		}
		return
	}
	httpWriteJSON(w, results)
}

// pollRoot handles GET /polls/{pollId}/root: the current Merkle commitment.
func (a *API) pollRoot(w http.ResponseWriter, r *http.Request) {
	poll, ok := a.pollFromURL(w, r)
	if !ok {
		return
	}
	root, err := a.storage.PollRoot(poll.ID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			httpWriteJSON(w, map[string]any{
				"pollId":    poll.ID,
				"leafCount": 0,
			})
			return
		}
		ErrGenericInternalServerError.WithErr(err).Write(w)
		return
	}
	httpWriteJSON(w, map[string]any{
		"pollId":    root.PollID,
		"root":      root.Root.String(),
		"leafCount": root.LeafCount,
		"updatedAt": root.UpdatedAt,
	})
}

// pollAnchors handles GET /polls/{pollId}/anchors.
func (a *API) pollAnchors(w http.ResponseWriter, r *http.Request) {
	poll, ok := a.pollFromURL(w, r)
	if !ok {
		return
	}
	anchors, err := a.storage.Anchors(poll.ID)
	if err != nil {
		ErrGenericInternalServerError.WithErr(err).Write(w)
		return
	}
	httpWriteJSON(w, map[string]any{"anchors": anchors})
}

// pollFromURL resolves the {pollId} URL parameter, writing the appropriate
// error when the poll cannot be served.
func (a *API) pollFromURL(w http.ResponseWriter, r *http.Request) (*types.Poll, bool) {
	pollID := chi.URLParam(r, PollURLParam)
	if pollID == "" {
		ErrMalformedParam.Write(w)
		return nil, false
	}
	poll, err := a.storage.Poll(pollID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			ErrPollNotFound.Write(w)
			return nil, false
		}
		ErrGenericInternalServerError.WithErr(err).Write(w)
		return nil, false
	}
	return poll, true
}
