package studio

import (
	"fmt"

	"github.com/cardforge/cardforge/internal/application/generation"
)

// ══════════════════════════════════════════════════════════════════════════════
// REQUEST DTOs
// ══════════════════════════════════════════════════════════════════════════════

// SubmitJobDTO is the wire format for a generation job submission.
type SubmitJobDTO struct {
	IdempotencyKey string            `json:"idempotency_key"`
	Prompt         string            `json:"prompt"`
	Attributes     map[string]string `json:"attributes"`
	QualityWeight  int               `json:"quality_weight"`
	Level          int               `json:"level"`
	Border         string            `json:"border"`
}

// ══════════════════════════════════════════════════════════════════════════════
// RESPONSE DTOs
// ══════════════════════════════════════════════════════════════════════════════

// JobAcceptedDTO is the studio's response to a successful submission.
type JobAcceptedDTO struct {
	JobID string `json:"job_id"`
}

// JobStatusDTO is the studio's response to a status poll.
type JobStatusDTO struct {
	JobID        string `json:"job_id"`
	Status       string `json:"status"` // queued | running | succeeded | failed
	ArtifactURL  string `json:"artifact_url,omitempty"`
	ThumbnailURL string `json:"thumbnail_url,omitempty"`
	Reason       string `json:"reason,omitempty"`
}

// toPollResult maps the wire status onto the orchestrator's job status.
// Unknown statuses are treated as pending; the wait budget bounds the damage
// if the studio adds states we do not know about.
func (d JobStatusDTO) toPollResult() generation.PollResult {
	var status generation.JobStatus
	switch d.Status {
	case "succeeded":
		status = generation.JobSucceeded
	case "failed":
		status = generation.JobFailed
	default:
		status = generation.JobPending
	}
	return generation.PollResult{
		Status:       status,
		ArtifactURL:  d.ArtifactURL,
		ThumbnailURL: d.ThumbnailURL,
		Reason:       d.Reason,
	}
}

// APIErrorDTO is the studio's error envelope.
type APIErrorDTO struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Status  int    `json:"-"`
}

// Error implements the error interface.
func (e *APIErrorDTO) Error() string {
	return fmt.Sprintf("studio api error %d (%s): %s", e.Status, e.Code, e.Message)
}
