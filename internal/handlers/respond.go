package handlers

import (
	"encoding/json"
	"net/http"

	"tableside/internal/domain"
)

type problem struct {
	Code    domain.Kind `json:"code"`
	Message string      `json:"message"`
	Status  int         `json:"status"`
}

var kindStatus = map[domain.Kind]int{
	domain.KindInvalidToken:              http.StatusBadRequest,
	domain.KindMissingRestaurant:         http.StatusBadRequest,
	domain.KindValidation:                http.StatusBadRequest,
	domain.KindTableNotFound:             http.StatusNotFound,
	domain.KindSessionNotFound:           http.StatusNotFound,
	domain.KindOrderNotFound:             http.StatusNotFound,
	domain.KindTableDisabled:             http.StatusConflict,
	domain.KindSessionClosed:             http.StatusConflict,
	domain.KindInvalidTransition:         http.StatusConflict,
	domain.KindUnpaidBalance:             http.StatusConflict,
	domain.KindCapacityExceeded:          http.StatusConflict,
	domain.KindCategoryCapacityExceeded:  http.StatusConflict,
	domain.KindKitchenPaused:             http.StatusServiceUnavailable,
	domain.KindUnauthorized:              http.StatusForbidden,
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

// writeProblem maps a domain error to its transport shape. Unknown errors
// become opaque 500s; their detail stays in the logs, not the response.
func writeProblem(w http.ResponseWriter, err error) {
	kind := domain.KindOf(err)
	status, ok := kindStatus[kind]
	if !ok {
		writeJSON(w, http.StatusInternalServerError, problem{
			Code: domain.KindInternal, Message: "internal error", Status: http.StatusInternalServerError,
		})
		return
	}
	writeJSON(w, status, problem{Code: kind, Message: err.Error(), Status: status})
}
