package handlers

import (
	"bufio"
	"errors"
	"net"
	"net/http"
	"time"

	"tableside/internal/common/logger"
	"tableside/internal/domain"
)

// roleFrom reads the role asserted by the auth gateway in front of this
// service. Absent or unknown values are customers; staff routes then fail
// closed on the authorization checks downstream.
func roleFrom(r *http.Request) domain.Role {
	switch role := domain.Role(r.Header.Get("X-Staff-Role")); role {
	case domain.RoleKitchen, domain.RoleCashier, domain.RoleManager, domain.RoleOwner:
		return role
	default:
		return domain.RoleCustomer
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// Hijack keeps the websocket upgrade working behind the logging wrapper.
func (r *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hj, ok := r.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("response writer does not support hijacking")
	}
	return hj.Hijack()
}

func logRequests(lg *logger.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		lg.Debug("http_request", map[string]any{
			"method": r.Method, "path": r.URL.Path,
			"status": rec.status, "duration_ms": time.Since(start).Milliseconds(),
		})
	})
}
