// Package agentproto is the worker↔store HTTP protocol used when a worker
// runs in remote/agent mode rather than co-located with the store (spec
// §6 "Worker → store HTTP protocol").
package agentproto

// PingType discriminates the three shapes of an update_ping payload (spec
// §6).
type PingType string

const (
	PingInitial  PingType = "Initial"
	PingMainLoop PingType = "MainLoop"
	PingJob      PingType = "Job"
)

// UpdatePingRequest is the body of POST /agent_workers/update_ping. Fields
// are optional per PingType: Initial sends identity, MainLoop sends
// occupancy/capacity, Job sends the most recently finished job's
// identifiers.
type UpdatePingRequest struct {
	PingType PingType `json:"ping_type"`

	WorkerInstance string   `json:"worker_instance,omitempty"`
	IP             string   `json:"ip,omitempty"`
	Tags           []string `json:"tags,omitempty"`

	JobsExecuted *int64 `json:"jobs_executed,omitempty"`

	OccupancyRate    *float64 `json:"occupancy_rate,omitempty"`
	OccupancyRate15s *float64 `json:"occupancy_rate_15s,omitempty"`
	OccupancyRate5m  *float64 `json:"occupancy_rate_5m,omitempty"`
	OccupancyRate30m *float64 `json:"occupancy_rate_30m,omitempty"`

	VCPUs       *int     `json:"vcpus,omitempty"`
	Memory      *uint64  `json:"memory,omitempty"`
	MemoryUsage *float64 `json:"memory_usage,omitempty"`
	WMMemoryUsage *float64 `json:"wm_memory_usage,omitempty"`

	LastJobExecuted     string `json:"last_job_executed,omitempty"`
	LastJobWorkspaceID  string `json:"last_job_workspace_id,omitempty"`

	NativeMode    *bool  `json:"native_mode,omitempty"`
	JobIsolation  string `json:"job_isolation,omitempty"`
}

// PingJobStatusRequest is the body of POST
// /agent_workers/ping_job_status/{job_id}.
type PingJobStatusRequest struct {
	MemPeak    *int64 `json:"mem_peak,omitempty"`
	CurrentMem *int64 `json:"current_mem,omitempty"`
}

// PingJobStatusResponse tells the worker whether to cancel the named job.
type PingJobStatusResponse struct {
	ShouldCancel bool `json:"should_cancel"`
}
