// Package server exposes a benchmark registry over HTTP.
//
// Endpoints:
//   - GET /health: liveness and registry size
//   - GET /records: records matching a filter, as JSON or CSV
//   - GET /query: exact lookup of one configuration
//   - GET /summary: latency statistics over a filter
//   - GET /speedup: per-configuration ratio between two hardware descriptors
//   - GET /metrics: Prometheus metrics
//   - POST /jobs, GET /jobs/{id}: measurement jobs, when a queue is configured
package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/luxfi/fhebench"
	"github.com/luxfi/fhebench/internal/metrics"
	"github.com/luxfi/fhebench/internal/queue"
)

// Config holds server configuration
type Config struct {
	Address string
	// Source names where the registry was loaded from, reported by /health.
	Source string
	// Jobs enables the job endpoints. Nil disables them.
	Jobs queue.Queue
}

// Server serves queries against one immutable registry.
type Server struct {
	cfg     Config
	reg     *fhebench.Registry
	metrics *metrics.Metrics
	started time.Time
}

// New creates a server for reg. m may be nil.
func New(reg *fhebench.Registry, cfg Config, m *metrics.Metrics) *Server {
	m.SetRecords(reg.Len())
	return &Server{
		cfg:     cfg,
		reg:     reg,
		metrics: m,
		started: time.Now(),
	}
}

// Handler returns the HTTP handler
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", s.handleHealth)
	mux.Handle("GET /records", s.instrument("records", s.handleRecords))
	mux.Handle("GET /query", s.instrument("query", s.handleQuery))
	mux.Handle("GET /summary", s.instrument("summary", s.handleSummary))
	mux.Handle("GET /speedup", s.instrument("speedup", s.handleSpeedup))
	mux.Handle("GET /metrics", s.metrics.Handler())
	if s.cfg.Jobs != nil {
		mux.Handle("POST /jobs", s.instrument("jobs_submit", s.handleSubmitJob))
		mux.Handle("GET /jobs/{id}", s.instrument("jobs_get", s.handleGetJob))
	}

	return corsMiddleware(mux)
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// statusRecorder captures the response status for metrics.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (s *Server) instrument(endpoint string, h http.HandlerFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		h(rec, r)
		s.metrics.ObserveRequest(endpoint, resultLabel(rec.status), time.Since(start))
	})
}

func resultLabel(status int) string {
	switch {
	case status < 400:
		return "ok"
	case status == http.StatusNotFound:
		return "not_found"
	case status < 500:
		return "bad_request"
	default:
		return "error"
	}
}

// errorResponse is the JSON body of every non-2xx response.
type errorResponse struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("encode response", "error", err)
	}
}

func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	var bad badRequestError
	switch {
	case errors.As(err, &bad):
		status = http.StatusBadRequest
	case errors.Is(err, fhebench.ErrNotFound), errors.Is(err, queue.ErrJobNotFound):
		status = http.StatusNotFound
	}
	writeJSON(w, status, errorResponse{Error: err.Error()})
}

type badRequestError struct{ msg string }

func (e badRequestError) Error() string { return e.msg }

func badRequest(format string, args ...any) error {
	return badRequestError{msg: fmt.Sprintf(format, args...)}
}

// parseFilter reads the optional filter parameters of a request.
func parseFilter(q url.Values) (fhebench.Filter, error) {
	f := fhebench.Filter{
		Operation: q.Get("operation"),
		Hardware:  q.Get("hardware"),
	}
	if v := q.Get("bit_width"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			return f, badRequest("bit_width must be a positive integer, got %q", v)
		}
		f.BitWidth = n
	}
	if v := q.Get("operand_mode"); v != "" {
		m, err := fhebench.ParseOperandMode(v)
		if err != nil {
			return f, badRequest("%v", err)
		}
		f.Mode = m
	}
	return f, nil
}

type healthResponse struct {
	Status  string `json:"status"`
	Records int    `json:"records"`
	Source  string `json:"source,omitempty"`
	Uptime  string `json:"uptime"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, healthResponse{
		Status:  "ok",
		Records: s.reg.Len(),
		Source:  s.cfg.Source,
		Uptime:  time.Since(s.started).Truncate(time.Second).String(),
	})
}

// RecordsResponse is the JSON body of /records.
type RecordsResponse struct {
	Count   int               `json:"count"`
	Records []fhebench.Record `json:"records"`
}

func (s *Server) handleRecords(w http.ResponseWriter, r *http.Request) {
	f, err := parseFilter(r.URL.Query())
	if err != nil {
		writeError(w, err)
		return
	}

	switch format := r.URL.Query().Get("format"); format {
	case "", "json":
		resp := RecordsResponse{Records: []fhebench.Record{}}
		for rec := range s.reg.List(f) {
			resp.Records = append(resp.Records, rec)
		}
		resp.Count = len(resp.Records)
		writeJSON(w, http.StatusOK, resp)
	case "csv":
		w.Header().Set("Content-Type", "text/csv")
		if err := fhebench.WriteCSV(w, s.reg.List(f)); err != nil {
			slog.Warn("write csv response", "error", err)
		}
	default:
		writeError(w, badRequest("unknown format %q", format))
	}
}

func (s *Server) handleQuery(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	for _, p := range []string{"operation", "bit_width", "hardware", "operand_mode"} {
		if q.Get(p) == "" {
			writeError(w, badRequest("missing parameter %s", p))
			return
		}
	}
	f, err := parseFilter(q)
	if err != nil {
		writeError(w, err)
		return
	}

	rec, err := s.reg.Query(f.Operation, f.BitWidth, f.Hardware, f.Mode)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (s *Server) handleSummary(w http.ResponseWriter, r *http.Request) {
	f, err := parseFilter(r.URL.Query())
	if err != nil {
		writeError(w, err)
		return
	}
	sum, err := fhebench.Summarize(s.reg.List(f))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sum)
}

func (s *Server) handleSpeedup(w http.ResponseWriter, r *http.Request) {
	baseline, candidate := r.URL.Query().Get("baseline"), r.URL.Query().Get("candidate")
	if baseline == "" || candidate == "" {
		writeError(w, badRequest("baseline and candidate are required"))
		return
	}
	speedups := fhebench.Speedups(s.reg, baseline, candidate)
	if speedups == nil {
		speedups = []fhebench.Speedup{}
	}
	writeJSON(w, http.StatusOK, speedups)
}
