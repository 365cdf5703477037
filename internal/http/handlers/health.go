// Package handlers provides HTTP API handlers for plexbridge.
package handlers

import (
	"context"
	"os"
	"runtime"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/shirou/gopsutil/v4/load"
	"github.com/shirou/gopsutil/v4/mem"
	"github.com/shirou/gopsutil/v4/process"

	"github.com/plexbridge/plexbridge/internal/database"
	"github.com/plexbridge/plexbridge/internal/httpclient"
	"github.com/plexbridge/plexbridge/internal/proxy"
)

// HealthHandler handles the health check endpoint.
type HealthHandler struct {
	version   string
	startTime time.Time
	db        *database.DB
	client    *httpclient.Client
	registry  *proxy.SessionRegistry
}

// NewHealthHandler creates a new health handler.
func NewHealthHandler(version string) *HealthHandler {
	return &HealthHandler{
		version:   version,
		startTime: time.Now(),
	}
}

// WithDB sets the database used for health checks.
func (h *HealthHandler) WithDB(db *database.DB) *HealthHandler {
	h.db = db
	return h
}

// WithUpstreamClient sets the client whose circuit breaker state is reported.
func (h *HealthHandler) WithUpstreamClient(client *httpclient.Client) *HealthHandler {
	h.client = client
	return h
}

// WithProxyRegistry sets the registry whose active session count is reported.
func (h *HealthHandler) WithProxyRegistry(registry *proxy.SessionRegistry) *HealthHandler {
	h.registry = registry
	return h
}

// CPUInfo reports host CPU load.
type CPUInfo struct {
	Cores     int     `json:"cores"`
	Load1Min  float64 `json:"load_1min"`
	Load5Min  float64 `json:"load_5min"`
	Load15Min float64 `json:"load_15min"`
}

// MemoryInfo reports host and process memory usage in MiB.
type MemoryInfo struct {
	TotalMB     float64 `json:"total_mb"`
	UsedMB      float64 `json:"used_mb"`
	AvailableMB float64 `json:"available_mb"`
	ProcessMB   float64 `json:"process_mb"`
	ChildrenMB  float64 `json:"children_mb"`
	ChildCount  int     `json:"child_count"`
}

// HealthResponse is the health check payload.
type HealthResponse struct {
	Status         string     `json:"status"`
	Version        string     `json:"version"`
	Timestamp      string     `json:"timestamp"`
	Uptime         string     `json:"uptime"`
	UptimeSeconds  float64    `json:"uptime_seconds"`
	CPU            CPUInfo    `json:"cpu"`
	Memory         MemoryInfo `json:"memory"`
	Database       string     `json:"database"`
	UpstreamState  string     `json:"upstream_state,omitempty"`
	ActiveSessions int        `json:"active_sessions"`
}

// HealthInput is the input for the health check endpoint.
type HealthInput struct{}

// HealthOutput is the output for the health check endpoint.
type HealthOutput struct {
	Body HealthResponse
}

// Register registers the health routes with the API.
func (h *HealthHandler) Register(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "getHealth",
		Method:      "GET",
		Path:        "/health",
		Summary:     "Health check",
		Description: "Returns service health including system metrics",
		Tags:        []string{"System"},
	}, h.GetHealth)
}

// GetHealth returns the health status of the service.
func (h *HealthHandler) GetHealth(ctx context.Context, input *HealthInput) (*HealthOutput, error) {
	now := time.Now()
	uptime := now.Sub(h.startTime)

	resp := HealthResponse{
		Status:        "healthy",
		Version:       h.version,
		Timestamp:     now.UTC().Format(time.RFC3339),
		Uptime:        uptime.Round(time.Second).String(),
		UptimeSeconds: uptime.Seconds(),
		CPU:           h.cpuInfo(),
		Memory:        h.memoryInfo(),
		Database:      h.databaseStatus(ctx),
	}
	if resp.Database == "error" {
		resp.Status = "degraded"
	}
	if h.client != nil {
		resp.UpstreamState = h.client.BreakerState().String()
	}
	if h.registry != nil {
		resp.ActiveSessions = h.registry.Len()
	}

	return &HealthOutput{Body: resp}, nil
}

func (h *HealthHandler) cpuInfo() CPUInfo {
	info := CPUInfo{Cores: runtime.NumCPU()}

	if avg, err := load.Avg(); err == nil && avg != nil {
		info.Load1Min = avg.Load1
		info.Load5Min = avg.Load5
		info.Load15Min = avg.Load15
	}

	return info
}

func (h *HealthHandler) memoryInfo() MemoryInfo {
	info := MemoryInfo{}

	if vm, err := mem.VirtualMemory(); err == nil && vm != nil {
		info.TotalMB = float64(vm.Total) / 1024 / 1024
		info.UsedMB = float64(vm.Used) / 1024 / 1024
		info.AvailableMB = float64(vm.Available) / 1024 / 1024
	}

	proc, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		return info
	}
	if pm, err := proc.MemoryInfo(); err == nil && pm != nil {
		info.ProcessMB = float64(pm.RSS) / 1024 / 1024
	}
	// FFmpeg children count against the bridge too.
	if children, err := proc.Children(); err == nil {
		info.ChildCount = len(children)
		for _, child := range children {
			if cm, err := child.MemoryInfo(); err == nil && cm != nil {
				info.ChildrenMB += float64(cm.RSS) / 1024 / 1024
			}
		}
	}

	return info
}

func (h *HealthHandler) databaseStatus(ctx context.Context) string {
	if h.db == nil {
		return "unknown"
	}
	pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := h.db.Ping(pingCtx); err != nil {
		return "error"
	}
	return "ok"
}
