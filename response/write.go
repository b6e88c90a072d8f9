package response

import (
	"encoding/json"
	"net/http"
)

// WriteError writes err as the JSON error envelope
func WriteError(w http.ResponseWriter, r *http.Request, err *Error) {
	if err == nil {
		err = ErrUnexpected()
	}
	writeJSON(w, err.StatusCode, err)
}

// WriteResponse writes data with 200 OK
func WriteResponse(w http.ResponseWriter, r *http.Request, data interface{}) {
	writeJSON(w, http.StatusOK, data)
}

// WriteStatus writes data with the given status
func WriteStatus(w http.ResponseWriter, r *http.Request, status int, data interface{}) {
	writeJSON(w, status, data)
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data == nil {
		return
	}
	json.NewEncoder(w).Encode(data)
}
