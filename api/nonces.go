package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/civicledger/referendum-node/noncestore"
)

// newNonce handles POST /nonces. The body selects the purpose; the response
// carries the 64-hex-char single-use value and its TTL in seconds.
func (a *API) newNonce(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Purpose string `json:"purpose"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		ErrMalformedBody.WithErr(err).Write(w)
		return
	}
	value, err := a.nonces.Generate(body.Purpose)
	if err != nil {
		if errors.Is(err, noncestore.ErrUnknownPurpose) {
			ErrUnknownNoncePurpose.Withf("%q", body.Purpose).Write(w)
			return
		}
		ErrStorageUnavailable.WithErr(err).Write(w)
		return
	}
	ttl, err := a.nonces.GetTTL(value, body.Purpose)
	if err != nil {
		ErrStorageUnavailable.WithErr(err).Write(w)
		return
	}
	httpWriteJSON(w, map[string]any{
		"nonce":      value,
		"purpose":    body.Purpose,
		"ttlSeconds": int(ttl.Seconds()),
	})
}
