package model

import "time"

// Occupancy is the fraction of wallclock time a worker spent executing jobs,
// sampled over three sliding windows (spec §3, §4.D).
type Occupancy struct {
	Instant float64 `json:"instant"`
	W15s    float64 `json:"w15s"`
	W5m     float64 `json:"w5m"`
	W30m    float64 `json:"w30m"`
}

// IsolationKind is the sandbox mode a worker is configured to run jobs under
// (spec §4.E).
type IsolationKind string

const (
	IsolationDirect          IsolationKind = "direct"
	IsolationNamespaceIsolated IsolationKind = "namespace-isolated"
	IsolationUnshareLight    IsolationKind = "unshare-light"
)

// WorkerPing is the liveness/capacity row a worker upserts on a fixed
// interval (spec §3, §6 /agent_workers/update_ping).
type WorkerPing struct {
	Worker            string
	Group             string
	HostIP            string
	Tags              []string
	LastPing          time.Time
	VCPUs             int
	MemoryBytes       uint64
	MemoryUsage       float64
	PlatformMemoryUsage float64
	Occupancy         Occupancy
	Version           string
	JobsExecuted      int64
	NativeMode        bool
	IsolationKind     IsolationKind
}
