package api

import (
	"net/http"
	"strconv"

	"github.com/civicledger/referendum-node/types"
)

// auditVerify handles GET /audit/verify: walks the chain from genesis and
// reports whether it is intact, and if not, the earliest tampered entry id.
func (a *API) auditVerify(w http.ResponseWriter, _ *http.Request) {
	tampered, err := a.storage.VerifyAuditChain()
	if err != nil {
		ErrGenericInternalServerError.WithErr(err).Write(w)
		return
	}
	resp := map[string]any{"intact": tampered < 0}
	if tampered >= 0 {
		resp["earliestTamperedId"] = tampered
	}
	httpWriteJSON(w, resp)
}

// auditEvents handles GET /audit/events?k=: a summary of event counts by
// kind under the same k-anonymity floor as poll results.
func (a *API) auditEvents(w http.ResponseWriter, r *http.Request) {
	k := types.DefaultKAnonymity
	if raw := r.URL.Query().Get("k"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			ErrMalformedParam.Withf("k=%q", raw).Write(w)
			return
		}
		k = parsed
	}
	counts, suppressed, err := a.aggregator.SecurityEventsSummary(k)
	if err != nil {
		ErrGenericInternalServerError.WithErr(err).Write(w)
		return
	}
	httpWriteJSON(w, map[string]any{
		"events":          counts,
		"kThreshold":      k,
		"suppressedKinds": suppressed,
	})
}
