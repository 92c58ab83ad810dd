package batch

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"imgforge/internal/pipeline"
	"imgforge/pkg/imgutil"
)

type Status int

const (
	StatusQueued Status = iota
	StatusRunning
	StatusSucceeded
	StatusFailed
	StatusCancelled
)

func (s Status) String() string {
	switch s {
	case StatusQueued:
		return "queued"
	case StatusRunning:
		return "running"
	case StatusSucceeded:
		return "succeeded"
	case StatusFailed:
		return "failed"
	case StatusCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// Terminal reports whether the job will not change again.
func (s Status) Terminal() bool {
	return s == StatusSucceeded || s == StatusFailed || s == StatusCancelled
}

// Preset is a named operation sequence applied to every image in a batch.
type Preset struct {
	ID         string
	Name       string
	Category   string
	Suffix     string
	Operations []pipeline.Operation
	Format     imgutil.Kind
	Quality    int
}

// Job is one (image, preset) pair. Its fields are written only by the
// orchestrator running it.
type Job struct {
	ID     string
	Index  int
	Asset  *pipeline.Asset
	Preset Preset

	Status Status
	Err    error
	Width  int
	Height int
	Format imgutil.Kind

	output []byte
}

// Plan crosses assets with presets, image-major, producing len(assets) *
// len(presets) queued jobs.
func Plan(assets []*pipeline.Asset, presets []Preset) []*Job {
	jobs := make([]*Job, 0, len(assets)*len(presets))
	for _, asset := range assets {
		for _, preset := range presets {
			jobs = append(jobs, &Job{
				ID:     uuid.NewString(),
				Index:  len(jobs),
				Asset:  asset,
				Preset: preset,
			})
		}
	}
	return jobs
}

// Name identifies the job in logs and progress messages.
func (j *Job) Name() string {
	return fmt.Sprintf("%s [%s]", j.Asset.Name, j.Preset.ID)
}

// Request builds the pipeline request for the job.
func (j *Job) Request() pipeline.Request {
	return pipeline.Request{
		Asset:      j.Asset,
		Operations: j.Preset.Operations,
		Format:     j.Preset.Format,
		Quality:    j.Preset.Quality,
	}
}

// Size is the length of the output still held by the job.
func (j *Job) Size() int { return len(j.output) }

// TakeOutput hands the output bytes to the caller. Later calls return nil,
// false.
func (j *Job) TakeOutput() ([]byte, bool) {
	if j.output == nil {
		return nil, false
	}
	out := j.output
	j.output = nil
	return out, true
}

// Progress is emitted whenever a job changes state. Completed counts jobs in
// a terminal state and never decreases.
type Progress struct {
	Completed int
	Total     int
	Phase     string
	Message   string

	JobID  string
	Job    string
	Status Status
	Err    error
}

// Report is the outcome of a batch.
type Report struct {
	Total     int
	Succeeded []*Job
	Failed    []*Job
	Cancelled []*Job
	Elapsed   time.Duration
}

// Bytes sums the output still held by succeeded jobs.
func (r Report) Bytes() int64 {
	var n int64
	for _, j := range r.Succeeded {
		n += int64(j.Size())
	}
	return n
}
