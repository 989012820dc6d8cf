package middleware

import (
	"bufio"
	"errors"
	"net"
	"net/http"
	"time"

	"droneaid/internal/logger"
)

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// Hijack keeps websocket upgrades working behind the recorder.
func (r *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := r.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("response writer does not support hijacking")
	}
	r.status = http.StatusSwitchingProtocols
	return h.Hijack()
}

func (r *statusRecorder) Flush() {
	if f, ok := r.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// RequestLogger logs every request with its status and duration. Server
// errors go to the error log, client errors to the warning log.
func RequestLogger(log *logger.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(rec, r)

		elapsed := time.Since(start)
		switch {
		case rec.status >= 500:
			log.Error("%s %s -> %d (%v)", r.Method, r.URL.Path, rec.status, elapsed)
		case rec.status >= 400:
			log.Warning("%s %s -> %d (%v)", r.Method, r.URL.Path, rec.status, elapsed)
		default:
			log.Debug("%s %s -> %d (%v)", r.Method, r.URL.Path, rec.status, elapsed)
		}
	})
}
