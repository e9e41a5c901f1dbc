package domain

import (
	"math"
	"math/bits"
	"time"
)

// JobStatus enumerates job lifecycle states.
type JobStatus string

const (
	JobStatusQueued     JobStatus = "queued"
	JobStatusProcessing JobStatus = "processing"
	JobStatusCompleted  JobStatus = "completed"
	JobStatusFailed     JobStatus = "failed"
)

// IsTerminal reports whether no further transition is possible from s.
func (s JobStatus) IsTerminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed
}

// IsActive reports whether the job counts against the queue capacity.
func (s JobStatus) IsActive() bool {
	return s == JobStatusQueued || s == JobStatusProcessing
}

// Mode selects the provider model variant.
type Mode string

const (
	ModeStandard Mode = "standard"
	ModeTurbo    Mode = "turbo"
)

// NormalizeMode maps an empty mode to the standard variant.
func NormalizeMode(m Mode) Mode {
	if m == "" {
		return ModeStandard
	}
	return m
}

// ReferenceImage is a conditioning image passed to the edit endpoint. URL is
// either a remote URL or an embedded data URI.
type ReferenceImage struct {
	URL      string `json:"url" validate:"required"`
	Priority int    `json:"priority"`
}

// GenerationRequest is the immutable user-supplied description of a job.
type GenerationRequest struct {
	Prompt     string           `json:"prompt" validate:"required"`
	Width      int              `json:"width" validate:"gt=0"`
	Height     int              `json:"height" validate:"gt=0"`
	Seed       *int64           `json:"seed,omitempty"`
	Count      int              `json:"count" validate:"min=1"`
	Mode       Mode             `json:"mode" validate:"oneof=standard turbo"`
	References []ReferenceImage `json:"references,omitempty" validate:"max=10,dive"`
}

// Pixels returns the requested pixel area, saturating at math.MaxInt instead
// of wrapping. Non-positive dimensions yield 0.
func (r GenerationRequest) Pixels() int {
	if r.Width <= 0 || r.Height <= 0 {
		return 0
	}
	hi, lo := bits.Mul64(uint64(r.Width), uint64(r.Height))
	if hi != 0 || lo > math.MaxInt {
		return math.MaxInt
	}
	return int(lo)
}

// FitsPixels reports whether Width*Height is at most limit, without
// computing a product that could overflow.
func (r GenerationRequest) FitsPixels(limit int) bool {
	if r.Width <= 0 || r.Height <= 0 || limit <= 0 {
		return false
	}
	return r.Width <= limit/r.Height
}

// HasReferences reports whether the request targets the edit endpoint.
func (r GenerationRequest) HasReferences() bool {
	return len(r.References) > 0
}

// Clone returns a deep copy so that stored requests never share backing arrays
// with caller-owned values.
func (r GenerationRequest) Clone() GenerationRequest {
	out := r
	if r.Seed != nil {
		seed := *r.Seed
		out.Seed = &seed
	}
	if r.References != nil {
		out.References = append([]ReferenceImage(nil), r.References...)
	}
	return out
}

// ImageResult is one produced image.
type ImageResult struct {
	ID     string `json:"id"`
	URL    string `json:"url"`
	Width  int    `json:"width"`
	Height int    `json:"height"`
	Seed   *int64 `json:"seed,omitempty"`
}

// JobRecord encapsulates the lifecycle of one generation request. Values
// handed out by the job store are copies; mutating them has no effect on the
// store.
type JobRecord struct {
	ID            string            `json:"id"`
	Request       GenerationRequest `json:"request"`
	Status        JobStatus         `json:"status"`
	Progress      float64           `json:"progress"`
	CreatedAt     time.Time         `json:"createdAt"`
	StartedAt     *time.Time        `json:"startedAt,omitempty"`
	CompletedAt   *time.Time        `json:"completedAt,omitempty"`
	Results       []ImageResult     `json:"results,omitempty"`
	Error         string            `json:"error,omitempty"`
	ErrorKind     FailureKind       `json:"errorKind,omitempty"`
	PendingTaskID string            `json:"pendingTaskId,omitempty"`
	Notice        string            `json:"notice,omitempty"`
}

// Clone returns a deep copy of the record.
func (j JobRecord) Clone() JobRecord {
	out := j
	out.Request = j.Request.Clone()
	if j.StartedAt != nil {
		t := *j.StartedAt
		out.StartedAt = &t
	}
	if j.CompletedAt != nil {
		t := *j.CompletedAt
		out.CompletedAt = &t
	}
	out.Results = CloneResults(j.Results)
	return out
}

// CloneResults deep-copies a result list, preserving nil.
func CloneResults(in []ImageResult) []ImageResult {
	if in == nil {
		return nil
	}
	out := make([]ImageResult, len(in))
	for i, r := range in {
		if r.Seed != nil {
			seed := *r.Seed
			r.Seed = &seed
		}
		out[i] = r
	}
	return out
}

// Outcome is the normalized result of one provider call. Either Results is
// populated, or PendingTaskID reports that the provider accepted the request
// but has not produced output synchronously.
type Outcome struct {
	Results       []ImageResult
	PendingTaskID string
}

// Pending reports whether the outcome is the asynchronous fallback.
func (o Outcome) Pending() bool {
	return o.PendingTaskID != "" && len(o.Results) == 0
}
