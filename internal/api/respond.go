package api

import (
	"encoding/json"
	"net/http"

	"github.com/LeventeLantos/wa-ledger/internal/client"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// relay copies the remote status code and body to the caller.
func relay(w http.ResponseWriter, res *client.SendResult) {
	ct := res.ContentType
	if ct == "" {
		ct = "application/json"
	}
	w.Header().Set("Content-Type", ct)
	w.WriteHeader(res.StatusCode)
	_, _ = w.Write(res.Body)
}
