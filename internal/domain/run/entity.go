// Package run models one inference run as it is persisted, archived and
// reported: the request that started it, its lifecycle status and the
// posterior it produced.
package run

import (
	"time"

	"github.com/google/uuid"

	"github.com/turtacn/abcflow/pkg/errors"
)

type Method string

const (
	MethodRejection Method = "rejection"
	MethodSMC       Method = "smc"
)

func (m Method) IsValid() bool {
	return m == MethodRejection || m == MethodSMC
}

type Status string

const (
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	// StatusPartial marks a run that stopped early (cancelled or trial cap)
	// but kept the samples accepted so far.
	StatusPartial Status = "partial"
	StatusFailed  Status = "failed"
)

func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusPartial || s == StatusFailed
}

// Sample is one accepted particle.
type Sample struct {
	Population int       `json:"population"`
	Parameters []float64 `json:"parameters"`
	Distance   float64   `json:"distance"`
	Weight     float64   `json:"weight"`
}

// PopulationSummary condenses one SMC generation.
type PopulationSummary struct {
	Index      int       `json:"index"`
	Epsilon    float64   `json:"epsilon"`
	Accepted   int       `json:"accepted"`
	TrialCount int       `json:"trial_count"`
	ESS        float64   `json:"ess"`
	Estimate   []float64 `json:"estimate"`
}

type Run struct {
	ID          string              `json:"id"`
	Method      Method              `json:"method"`
	Status      Status              `json:"status"`
	Epsilon     float64             `json:"epsilon"`
	NumSamples  int                 `json:"num_samples"`
	BatchSize   int                 `json:"batch_size"`
	Seed        uint64              `json:"seed"`
	Observed    []float64           `json:"observed"`
	Accepted    int                 `json:"accepted"`
	TrialCount  int                 `json:"trial_count"`
	Estimate    []float64           `json:"estimate"`
	Samples     []Sample            `json:"samples,omitempty"`
	Populations []PopulationSummary `json:"populations,omitempty"`
	ErrorCode   string              `json:"error_code,omitempty"`
	Error       string              `json:"error,omitempty"`
	ArchiveKey  string              `json:"archive_key,omitempty"`
	Elapsed     time.Duration       `json:"elapsed"`
	CreatedAt   time.Time           `json:"created_at"`
	CompletedAt *time.Time          `json:"completed_at,omitempty"`
}

// New returns a running run with a fresh ID unless id is given.
func New(id string, method Method) (*Run, error) {
	if !method.IsValid() {
		return nil, errors.Newf(errors.ErrCodeValidation, "unknown inference method %q", method)
	}
	if id == "" {
		id = uuid.New().String()
	}
	return &Run{
		ID:        id,
		Method:    method,
		Status:    StatusRunning,
		CreatedAt: time.Now().UTC(),
	}, nil
}

// Complete moves r into a terminal state.  A non-nil err marks the run
// failed unless partial is set, in which case the samples are kept.
func (r *Run) Complete(err error, partial bool) {
	now := time.Now().UTC()
	r.CompletedAt = &now
	switch {
	case err == nil:
		r.Status = StatusCompleted
	case partial:
		r.Status = StatusPartial
		r.ErrorCode = errors.GetCode(err).String()
		r.Error = err.Error()
	default:
		r.Status = StatusFailed
		r.ErrorCode = errors.GetCode(err).String()
		r.Error = err.Error()
	}
}

// AcceptanceRate is Accepted / TrialCount.
func (r *Run) AcceptanceRate() float64 {
	if r.TrialCount == 0 {
		return 0
	}
	return float64(r.Accepted) / float64(r.TrialCount)
}

//Personal.AI order the ending
