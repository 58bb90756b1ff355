package server

import (
	"encoding/json"
	"net/http"
	"slices"
	"time"

	"github.com/google/uuid"

	"github.com/luxfi/fhebench"
	"github.com/luxfi/fhebench/internal/queue"
	"github.com/luxfi/fhebench/measure"
)

// maxJobRequestBytes bounds POST /jobs bodies.
const maxJobRequestBytes = 64 << 10

// JobRequest is the body of POST /jobs. Zero fields fall back to the
// worker's configuration.
type JobRequest struct {
	Operations []string `json:"operations,omitempty"`
	BitWidths  []int    `json:"bit_widths,omitempty"`
	Iterations int      `json:"iterations,omitempty"`
	Hardware   string   `json:"hardware,omitempty"`
}

func (r JobRequest) validate() error {
	for _, op := range r.Operations {
		if !measure.Supports(op) {
			return badRequest("unknown operation %q", op)
		}
	}
	if len(r.BitWidths) > measure.MaxBitWidths {
		return badRequest("%d bit widths, at most %d", len(r.BitWidths), measure.MaxBitWidths)
	}
	for i, w := range r.BitWidths {
		if w <= 0 || w > measure.MaxBitWidth {
			return badRequest("bit width %d out of range [1, %d]", w, measure.MaxBitWidth)
		}
		if slices.Contains(r.BitWidths[:i], w) {
			return badRequest("bit width %d listed twice", w)
		}
	}
	if r.Iterations < 0 || r.Iterations > measure.MaxIterations {
		return badRequest("iterations %d out of range [0, %d]", r.Iterations, measure.MaxIterations)
	}
	if r.Hardware != "" {
		if err := fhebench.ValidateHardware(r.Hardware); err != nil {
			return badRequest("%v", err)
		}
	}
	return nil
}

func (s *Server) handleSubmitJob(w http.ResponseWriter, r *http.Request) {
	var req JobRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxJobRequestBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		writeError(w, badRequest("decode job request: %v", err))
		return
	}
	if err := req.validate(); err != nil {
		writeError(w, err)
		return
	}

	now := time.Now().UTC()
	job := &queue.Job{
		ID:         uuid.NewString(),
		Operations: req.Operations,
		BitWidths:  req.BitWidths,
		Iterations: req.Iterations,
		Hardware:   req.Hardware,
		Status:     queue.StatusPending,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := s.cfg.Jobs.Push(r.Context(), job); err != nil {
		writeError(w, err)
		return
	}
	w.Header().Set("Location", "/jobs/"+job.ID)
	writeJSON(w, http.StatusAccepted, job)
}

func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	job, err := s.cfg.Jobs.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, job)
}
