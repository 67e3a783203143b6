// Package model holds the wire and storage types shared by the job queue,
// worker, execution harness, and liveness monitor.
package model

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Kind enumerates the shapes of work the queue accepts. Non-script kinds
// (flow, identity, noop, ...) are dispatched the same way but carry different
// payload semantics in Args/RawCode.
type Kind string

const (
	KindScript             Kind = "script"
	KindPreview             Kind = "preview"
	KindFlow                Kind = "flow"
	KindFlowPreview          Kind = "flow-preview"
	KindDependencies        Kind = "dependencies"
	KindIdentity            Kind = "identity"
	KindNoop                Kind = "noop"
	KindDeploymentCallback  Kind = "deploymentcallback"
	KindAppDependencies     Kind = "app-dependencies"
)

// RetryPolicy controls re-enqueue behavior after a failed execution.
type RetryPolicy struct {
	MaxAttempts int           `json:"max_attempts"`
	Backoff     time.Duration `json:"backoff"`
}

// Job is a unit of work as defined in spec §3. It is immutable once enqueued;
// everything that changes over its lifetime (running state, ping, worker
// assignment) lives on QueueEntry instead.
type Job struct {
	ID             uuid.UUID       `json:"id"`
	WorkspaceID    string          `json:"workspace_id"`
	Kind           Kind            `json:"kind"`
	Language       string          `json:"language,omitempty"`
	RawCode        string          `json:"raw_code,omitempty"`
	ArtifactRef    string          `json:"artifact_ref,omitempty"` // hash or path of a deployed artifact
	Args           json.RawMessage `json:"args"`
	Tag            string          `json:"tag"`
	Priority       int16           `json:"priority"`
	CreatedAt      time.Time       `json:"created_at"`
	ScheduledFor   time.Time       `json:"scheduled_for"`
	ParentJobID    *uuid.UUID      `json:"parent_job_id,omitempty"`
	RootJobID      *uuid.UUID      `json:"root_job_id,omitempty"`
	ConcurrencyKey   string        `json:"concurrency_key,omitempty"`
	ConcurrencyLimit int           `json:"concurrency_limit,omitempty"`
	ConcurrencyWindow time.Duration `json:"concurrency_window,omitempty"`
	TimeoutSeconds int             `json:"timeout_seconds,omitempty"`
	Retry          *RetryPolicy    `json:"retry,omitempty"`

	SameWorker        bool   `json:"same_worker"`
	VisibleToRunnerOnly bool `json:"visible_to_runner_only"`
	DeleteAfterUse    bool   `json:"delete_after_use"`
	PermissionedAs    string `json:"permissioned_as,omitempty"`
	PermissionedAsEmail string `json:"permissioned_as_email,omitempty"`
}

// HasConcurrencyKey reports whether admission control applies to this job.
func (j *Job) HasConcurrencyKey() bool {
	return j.ConcurrencyKey != ""
}

// IsFlowStep reports whether the job is a flow continuation excluded from
// the liveness monitor's automatic zombie restart (spec §4.G, §9).
func (j *Job) IsFlowStep() bool {
	return j.Kind == KindFlow || j.Kind == KindFlowPreview
}
