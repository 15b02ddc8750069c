package server

import (
	"context"
	"net/http"
	"runtime"
	"time"

	"github.com/rs/zerolog"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"

	"github.com/aristath/shadowtrade/internal/database"
	"github.com/aristath/shadowtrade/internal/events"
	"github.com/aristath/shadowtrade/internal/httpapi"
	"github.com/aristath/shadowtrade/internal/mpc"
	"github.com/aristath/shadowtrade/internal/reliability"
	"github.com/aristath/shadowtrade/internal/scheduler"
)

// SystemHandlers serves health and status endpoints
type SystemHandlers struct {
	log         zerolog.Logger
	startupTime time.Time
	db          *database.DB
	journal     *events.Log
	scheduler   *scheduler.Scheduler
	dispatcher  DispatcherStats
	backups     *reliability.BackupService
}

// NewSystemHandlers creates system handlers from the server config
func NewSystemHandlers(cfg Config, log zerolog.Logger) *SystemHandlers {
	return &SystemHandlers{
		log:         log.With().Str("handler", "system").Logger(),
		startupTime: time.Now(),
		db:          cfg.DB,
		journal:     cfg.Journal,
		scheduler:   cfg.Scheduler,
		dispatcher:  cfg.Dispatcher,
		backups:     cfg.Backups,
	}
}

// HealthResponse is the body of GET /health
type HealthResponse struct {
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

// HandleHealth handles GET /health
func (h *SystemHandlers) HandleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	if err := h.db.QuickCheck(ctx); err != nil {
		h.log.Error().Err(err).Msg("Health check failed")
		httpapi.WriteJSON(w, h.log, http.StatusServiceUnavailable, HealthResponse{Status: "unhealthy", Error: err.Error()})
		return
	}
	httpapi.WriteJSON(w, h.log, http.StatusOK, HealthResponse{Status: "healthy"})
}

// StatusResponse is the body of GET /api/system/status
type StatusResponse struct {
	Status        string                     `json:"status"`
	UptimeSeconds int64                      `json:"uptime_seconds"`
	GoVersion     string                     `json:"go_version"`
	Goroutines    int                        `json:"goroutines"`
	CPUPercent    float64                    `json:"cpu_percent"`
	RAMPercent    float64                    `json:"ram_percent"`
	Database      *database.Stats            `json:"database,omitempty"`
	LastSequence  int64                      `json:"last_sequence"`
	EventCounts   map[events.EventType]int64 `json:"event_counts"`
	MPC           *mpc.Stats                 `json:"mpc,omitempty"`
	Backups       []reliability.BackupInfo   `json:"backups,omitempty"`
}

// HandleStatus handles GET /api/system/status
func (h *SystemHandlers) HandleStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	resp := StatusResponse{
		Status:        "ok",
		UptimeSeconds: int64(time.Since(h.startupTime).Seconds()),
		GoVersion:     runtime.Version(),
		Goroutines:    runtime.NumGoroutine(),
	}
	resp.CPUPercent, resp.RAMPercent = h.getSystemStats()

	stats, err := h.db.GetStats()
	if err != nil {
		h.log.Warn().Err(err).Msg("Failed to read database stats")
		resp.Status = "degraded"
	}
	resp.Database = stats

	if resp.LastSequence, err = h.journal.LastSequence(ctx); err != nil {
		httpapi.WriteError(w, h.log, err)
		return
	}
	if resp.EventCounts, err = h.journal.CountByType(ctx); err != nil {
		httpapi.WriteError(w, h.log, err)
		return
	}

	if h.dispatcher != nil {
		st := h.dispatcher.Stats()
		resp.MPC = &st
	}
	if h.backups != nil {
		if resp.Backups, err = h.backups.ListBackups(); err != nil {
			h.log.Warn().Err(err).Msg("Failed to list backups")
		}
	}

	httpapi.WriteJSON(w, h.log, http.StatusOK, resp)
}

// HandleJobs handles GET /api/system/jobs
func (h *SystemHandlers) HandleJobs(w http.ResponseWriter, r *http.Request) {
	jobs := []scheduler.JobStatus{}
	if h.scheduler != nil {
		jobs = h.scheduler.Jobs()
	}
	httpapi.WriteJSON(w, h.log, http.StatusOK, map[string]interface{}{
		"jobs":  jobs,
		"count": len(jobs),
	})
}

// getSystemStats returns CPU and RAM usage percentages. CPU is sampled over
// 100ms to keep the call short.
func (h *SystemHandlers) getSystemStats() (float64, float64) {
	cpuPercent, err := cpu.Percent(100*time.Millisecond, false)
	if err != nil {
		h.log.Warn().Err(err).Msg("Failed to get CPU percentage")
		cpuPercent = []float64{0}
	}

	memStat, err := mem.VirtualMemory()
	if err != nil {
		h.log.Warn().Err(err).Msg("Failed to get memory statistics")
		return 0, 0
	}

	cpuAvg := 0.0
	if len(cpuPercent) > 0 {
		cpuAvg = cpuPercent[0]
	}
	return cpuAvg, memStat.UsedPercent
}
