// Package adminsrv is the minimal process health/readiness surface
// every binary in §6 exposes, adapted from the teacher's admin
// package: a gorilla/mux router behind gorilla/handlers compression,
// started on its own listener with a clean shutdown func. This is
// ambient ops tooling, not the spec's explicitly out-of-scope query
// API.
package adminsrv

import (
	"encoding/json"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"github.com/inconshreveable/log15"
	"github.com/pborman/uuid"
	"github.com/pkg/errors"

	"github.com/jito-foundation/kobe/internal/coutil"
)

var logger = log15.New("pkg", "adminsrv")

// RunStatus is one pipeline's last-run bookkeeping, surfaced at
// /debug/vars.
type RunStatus struct {
	LastRunAt      time.Time `json:"last_run_at"`
	LastSuccessAt  time.Time `json:"last_success_at,omitempty"`
	LastError      string    `json:"last_error,omitempty"`
}

// Tracker is a concurrency-safe registry of per-pipeline RunStatus,
// updated by each pipeline as it runs and read by the /debug/vars
// handler.
type Tracker struct {
	mu     sync.Mutex
	status map[string]RunStatus
}

// NewTracker returns an empty Tracker.
func NewTracker() *Tracker {
	return &Tracker{status: make(map[string]RunStatus)}
}

// RecordRun updates pipeline's RunStatus after one run attempt.
func (t *Tracker) RecordRun(pipeline string, runErr error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	s := t.status[pipeline]
	now := time.Now().UTC()
	s.LastRunAt = now
	if runErr != nil {
		s.LastError = runErr.Error()
	} else {
		s.LastSuccessAt = now
		s.LastError = ""
	}
	t.status[pipeline] = s
}

func (t *Tracker) snapshot() map[string]RunStatus {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make(map[string]RunStatus, len(t.status))
	for k, v := range t.status {
		out[k] = v
	}
	return out
}

// requestIDMiddleware stamps every response with an X-Request-Id
// header, matching the teacher's request-id convention in
// cmd/thor/main.go (pborman/uuid).
func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Request-Id", uuid.New())
		next.ServeHTTP(w, r)
	})
}

func healthzHandler(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func debugVarsHandler(t *Tracker) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(t.snapshot()); err != nil {
			http.Error(w, "failed to encode status", http.StatusInternalServerError)
		}
	}
}

// HTTPHandler builds the admin router: /healthz for liveness,
// /debug/vars for the last-run-timestamps snapshot.
func HTTPHandler(t *Tracker) http.Handler {
	router := mux.NewRouter()
	router.HandleFunc("/healthz", healthzHandler)
	router.HandleFunc("/debug/vars", debugVarsHandler(t))
	router.Use(requestIDMiddleware)
	return handlers.CompressHandler(router)
}

// StartServer listens on addr and serves the admin surface in the
// background, returning its externally reachable base URL and a
// shutdown func.
func StartServer(addr string, t *Tracker) (string, func(), error) {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return "", nil, errors.Wrapf(err, "adminsrv: listen on %s", addr)
	}

	srv := &http.Server{
		Handler:           HTTPHandler(t),
		ReadHeaderTimeout: time.Second,
		ReadTimeout:       5 * time.Second,
	}
	var goes coutil.Goes
	goes.Go(func() {
		if err := srv.Serve(listener); err != nil && err != http.ErrServerClosed {
			logger.Warn("admin server stopped", "err", err)
		}
	})
	return "http://" + listener.Addr().String(), func() {
		_ = srv.Close()
		goes.Wait()
	}, nil
}
