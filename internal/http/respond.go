package httpx

import (
	"encoding/json"
	"net/http"

	"github.com/kpndevrootentri/ShipEntri/internal/fault"
)

// writeJSON writes JSON response with status code.
func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

// writeError sends an error message.
func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// writeFault maps a typed error to its HTTP status. Internal errors hide
// their message from the caller.
func writeFault(w http.ResponseWriter, err error) {
	switch fault.KindOf(err) {
	case fault.KindNotFound:
		writeError(w, http.StatusNotFound, err.Error())
	case fault.KindValidation, fault.KindTimeout:
		writeError(w, http.StatusBadRequest, err.Error())
	case fault.KindUnauthorized:
		writeError(w, http.StatusUnauthorized, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}
