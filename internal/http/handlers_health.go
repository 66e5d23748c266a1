package httpx

import (
	"io"
	"net/http"
)

const healthResponse = `{"status":"ok","service":"jobcore"}`

// healthHandler answers readiness/liveness checks with a 200 and the
// service identity.
func healthHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if r.Method == http.MethodHead {
		return
	}
	if _, err := io.WriteString(w, healthResponse); err != nil {
		// Nothing more to do if the client connection is gone.
		return
	}
}
