package http

import (
	"encoding/json"
	"net/http"

	cperrors "github.com/R3E-Network/testbed-control-plane/infrastructure/errors"
)

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError translates a domain error into its wire shape and HTTP status,
// falling back to 500 for an error that didn't originate as a ServiceError.
func writeError(w http.ResponseWriter, err error) {
	svcErr, ok := err.(*cperrors.ServiceError)
	if !ok {
		writeJSON(w, http.StatusInternalServerError, errorResponse{
			Code:    string(cperrors.ErrCodeInternal),
			Message: err.Error(),
		})
		return
	}
	writeJSON(w, svcErr.HTTPStatus, errorResponse{Code: string(svcErr.Code), Message: svcErr.Message})
}

// writeReplyOrError writes reply as 200 JSON when err is nil. When err is
// non-nil, only the translated error response is written and reply is
// dropped, so the caller sees the error's status and body, not the reply.
func writeReplyOrError(w http.ResponseWriter, reply interface{}, err error) {
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, reply)
}

func handleHealthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
