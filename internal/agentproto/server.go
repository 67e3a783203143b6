package agentproto

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/bobmcallan/quartzqueue/internal/model"
	"github.com/bobmcallan/quartzqueue/internal/platform/log"
	"github.com/bobmcallan/quartzqueue/internal/store"
)

// Server implements the store-side HTTP handlers remote workers call
// (spec §6).
type Server struct {
	pings   store.WorkerPingStore
	entries store.QueueStore
	runtime store.JobRuntimeStore
	logger  *log.Logger
}

// NewServer creates a Server.
func NewServer(pings store.WorkerPingStore, entries store.QueueStore, runtime store.JobRuntimeStore, logger *log.Logger) *Server {
	return &Server{pings: pings, entries: entries, runtime: runtime, logger: logger}
}

// Register adds this server's routes to mux.
func (s *Server) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /agent_workers/update_ping", s.handleUpdatePing)
	mux.HandleFunc("POST /agent_workers/ping_job_status/{job_id}", s.handlePingJobStatus)
}

func (s *Server) handleUpdatePing(w http.ResponseWriter, r *http.Request) {
	var req UpdatePingRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	worker := r.URL.Query().Get("worker")
	if worker == "" {
		http.Error(w, "missing worker query parameter", http.StatusBadRequest)
		return
	}

	ping := &model.WorkerPing{Worker: worker, LastPing: time.Now()}
	if existing, err := s.pings.Get(r.Context(), worker); err == nil {
		ping = existing
		ping.LastPing = time.Now()
	}

	applyPingFields(ping, &req)

	if err := s.pings.Upsert(r.Context(), ping); err != nil {
		s.logger.Error().Err(err).Str("worker", worker).Msg("failed to upsert worker ping")
		http.Error(w, "failed to persist ping", http.StatusInternalServerError)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func applyPingFields(ping *model.WorkerPing, req *UpdatePingRequest) {
	if req.IP != "" {
		ping.HostIP = req.IP
	}
	if req.Tags != nil {
		ping.Tags = req.Tags
	}
	if req.JobsExecuted != nil {
		ping.JobsExecuted = *req.JobsExecuted
	}
	if req.OccupancyRate != nil {
		ping.Occupancy.Instant = *req.OccupancyRate
	}
	if req.OccupancyRate15s != nil {
		ping.Occupancy.W15s = *req.OccupancyRate15s
	}
	if req.OccupancyRate5m != nil {
		ping.Occupancy.W5m = *req.OccupancyRate5m
	}
	if req.OccupancyRate30m != nil {
		ping.Occupancy.W30m = *req.OccupancyRate30m
	}
	if req.VCPUs != nil {
		ping.VCPUs = *req.VCPUs
	}
	if req.Memory != nil {
		ping.MemoryBytes = *req.Memory
	}
	if req.MemoryUsage != nil {
		ping.MemoryUsage = *req.MemoryUsage
	}
	if req.WMMemoryUsage != nil {
		ping.PlatformMemoryUsage = *req.WMMemoryUsage
	}
	if req.NativeMode != nil {
		ping.NativeMode = *req.NativeMode
	}
	if req.JobIsolation != "" {
		ping.IsolationKind = model.IsolationKind(req.JobIsolation)
	}
}

func (s *Server) handlePingJobStatus(w http.ResponseWriter, r *http.Request) {
	jobID, err := uuid.Parse(r.PathValue("job_id"))
	if err != nil {
		http.Error(w, "invalid job_id", http.StatusBadRequest)
		return
	}

	var req PingJobStatusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	if req.MemPeak != nil || req.CurrentMem != nil {
		var peak, current int64
		if req.MemPeak != nil {
			peak = *req.MemPeak
		}
		if req.CurrentMem != nil {
			current = *req.CurrentMem
		}
		if err := s.runtime.Upsert(r.Context(), jobID, peak, current); err != nil {
			s.logger.Warn().Err(err).Str("job_id", jobID.String()).Msg("failed to upsert job runtime sample")
		}
	}

	cancelRequested, err := s.entries.Heartbeat(r.Context(), jobID)
	if err != nil {
		s.logger.Warn().Err(err).Str("job_id", jobID.String()).Msg("failed to heartbeat job")
		http.Error(w, "failed to heartbeat job", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(PingJobStatusResponse{ShouldCancel: cancelRequested})
}
