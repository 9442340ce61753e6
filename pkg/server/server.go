package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/sirupsen/logrus"

	"github.com/viewlabs/viewband/internal/store"
	"github.com/viewlabs/viewband/pkg/envelope"
)

// Server provides the HTTP API over the committed envelope state.
// Reads hit the last committed snapshot and may run concurrently with
// a background refresh.
type Server struct {
	engine *envelope.Engine
	store  *store.BadgerStore
	port   int
	log    *logrus.Logger
}

// New creates a new HTTP server.
func New(engine *envelope.Engine, st *store.BadgerStore, port int, log *logrus.Logger) *Server {
	if port == 0 {
		port = 8080
	}
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Server{engine: engine, store: st, port: port, log: log}
}

// ListenAndServe starts the HTTP server.
func (s *Server) ListenAndServe() error {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/api/v1/curve", s.handleCurve)
	mux.HandleFunc("/api/v1/curve/point", s.handleCurvePoint)
	mux.HandleFunc("/api/v1/classify", s.handleClassify)
	mux.HandleFunc("/api/v1/baseline", s.handleBaseline)
	mux.HandleFunc("/api/v1/refresh", s.handleRefresh)
	mux.HandleFunc("/api/v1/baselines/refresh", s.handleBaselinesRefresh)
	mux.HandleFunc("/api/v1/snapshot", s.handleSnapshot)

	addr := fmt.Sprintf(":%d", s.port)
	s.log.WithField("addr", addr).Info("viewband server listening")
	return http.ListenAndServe(addr, mux)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleCurve(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
		return
	}

	from := queryInt(r, "from", 0)
	to := queryInt(r, "to", envelope.DefaultMaxAgeDays)

	points, err := s.store.CurvePoints(r.Context(), from, to)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"data":  points,
		"count": len(points),
	})
}

func (s *Server) handleCurvePoint(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
		return
	}

	age := queryInt(r, "age", -1)
	if age < 0 {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "age parameter required"})
		return
	}

	point, err := s.store.CurvePoint(r.Context(), age)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, point)
}

func (s *Server) handleClassify(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
		return
	}

	entity := r.URL.Query().Get("entity")
	age := queryInt(r, "age", -1)
	value := queryInt64(r, "value", -1)
	if entity == "" || age < 0 || value < 0 {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "entity, age and value parameters required"})
		return
	}

	perf, err := s.engine.Classify(r.Context(), entity, age, value)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, perf)
}

func (s *Server) handleBaseline(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
		return
	}

	entity := r.URL.Query().Get("entity")
	if entity == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "entity parameter required"})
		return
	}

	baseline, err := s.store.GetBaseline(r.Context(), entity)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, baseline)
}

type refreshRequest struct {
	FromAge int  `json:"from_age"`
	ToAge   int  `json:"to_age"`
	Resume  bool `json:"resume"`
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
		return
	}

	var req refreshRequest
	if r.Body != nil {
		// An empty body means a full refresh.
		_ = json.NewDecoder(r.Body).Decode(&req)
	}

	report, err := s.engine.Refresh(r.Context(), envelope.RefreshOpts{
		FromAge: req.FromAge,
		ToAge:   req.ToAge,
		Resume:  req.Resume,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (s *Server) handleBaselinesRefresh(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
		return
	}

	report, err := s.engine.RefreshBaselines(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (s *Server) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
		return
	}

	info, err := s.store.Snapshot(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, info)
}

// writeError maps engine errors to status codes. Data gaps are client
// facing conditions, not server faults.
func writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, envelope.ErrNoCurve), errors.Is(err, envelope.ErrNotFound):
		writeJSON(w, http.StatusNotFound, map[string]string{"error": err.Error()})
	case errors.Is(err, envelope.ErrNoClassification),
		errors.Is(err, envelope.ErrInsufficientData),
		errors.Is(err, envelope.ErrNoSamples):
		writeJSON(w, http.StatusUnprocessableEntity, map[string]string{"error": err.Error()})
	default:
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
	}
}

func queryInt(r *http.Request, key string, fallback int) int {
	v := r.URL.Query().Get(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func queryInt64(r *http.Request, key string, fallback int64) int64 {
	v := r.URL.Query().Get(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return fallback
	}
	return n
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}
