package api

import (
	"net/http"

	"github.com/civicledger/referendum-node/crypto/receipts"
)

// info handles GET /info: the static facts an external verifier needs to
// interpret receipts and leaves.
func (a *API) info(w http.ResponseWriter, _ *http.Request) {
	httpWriteJSON(w, map[string]any{
		"hasher":           a.storage.HasherName(),
		"receiptAlgorithm": receipts.Algorithm,
		"receiptVersion":   receipts.Version,
	})
}
