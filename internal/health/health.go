// SPDX-License-Identifier: MIT

// Package health reports liveness and component status for the daemon.
// It backs the /api/v1/health endpoint and Docker HEALTHCHECK probes.
package health

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"golang.org/x/sys/unix"
)

// Status represents a component or overall state.
type Status string

const (
	StatusHealthy   Status = "healthy"
	StatusDegraded  Status = "degraded"
	StatusUnhealthy Status = "unhealthy"
)

// CheckResult is the outcome of one component check.
type CheckResult struct {
	Status  Status `json:"status"`
	Message string `json:"message,omitempty"`
	Error   string `json:"error,omitempty"`
}

// Response is the full health report.
type Response struct {
	Status    Status                 `json:"status"`
	Version   string                 `json:"version,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
	Checks    map[string]CheckResult `json:"checks,omitempty"`
	Queue     *QueueInfo             `json:"queue,omitempty"`
}

// QueueInfo is the queue snapshot included in the report.
type QueueInfo struct {
	Length        int     `json:"length"`
	CurrentFileID *string `json:"current_file_id"`
}

// Checker is a named component check.
type Checker interface {
	Name() string
	Check(ctx context.Context) CheckResult
}

// QueueSnapshotter exposes the queue's observable state.
type QueueSnapshotter interface {
	Len() int
	CurrentID() *string
}

// Manager aggregates component checks into one report.
type Manager struct {
	version  string
	checkers []Checker
	queue    QueueSnapshotter
}

// NewManager creates a Manager. queue may be nil.
func NewManager(version string, queue QueueSnapshotter) *Manager {
	return &Manager{version: version, queue: queue}
}

// RegisterChecker adds a component check.
func (m *Manager) RegisterChecker(checker Checker) {
	m.checkers = append(m.checkers, checker)
}

// Report runs every check. Any unhealthy component makes the whole report
// unhealthy; degraded components degrade it.
func (m *Manager) Report(ctx context.Context) Response {
	resp := Response{
		Status:    StatusHealthy,
		Version:   m.version,
		Timestamp: time.Now().UTC(),
		Checks:    make(map[string]CheckResult, len(m.checkers)),
	}

	for _, checker := range m.checkers {
		result := checker.Check(ctx)
		resp.Checks[checker.Name()] = result

		switch result.Status {
		case StatusUnhealthy:
			resp.Status = StatusUnhealthy
		case StatusDegraded:
			if resp.Status == StatusHealthy {
				resp.Status = StatusDegraded
			}
		}
	}

	if m.queue != nil {
		resp.Queue = &QueueInfo{
			Length:        m.queue.Len(),
			CurrentFileID: m.queue.CurrentID(),
		}
	}
	return resp
}

// Pinger is anything with a context-aware connectivity probe.
type Pinger interface {
	Ping(ctx context.Context) error
}

// DatabaseChecker verifies store connectivity.
type DatabaseChecker struct {
	DB Pinger
}

func (DatabaseChecker) Name() string { return "database" }

func (c DatabaseChecker) Check(ctx context.Context) CheckResult {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := c.DB.Ping(ctx); err != nil {
		return CheckResult{Status: StatusUnhealthy, Error: err.Error()}
	}
	return CheckResult{Status: StatusHealthy}
}

// DiskChecker degrades when free space in the audio directory drops below
// the threshold.
type DiskChecker struct {
	Path     string
	MinBytes uint64
}

func (DiskChecker) Name() string { return "disk" }

func (c DiskChecker) Check(context.Context) CheckResult {
	var st unix.Statfs_t
	if err := unix.Statfs(c.Path, &st); err != nil {
		return CheckResult{Status: StatusUnhealthy, Error: err.Error()}
	}
	free := st.Bavail * uint64(st.Bsize)
	if free < c.MinBytes {
		return CheckResult{
			Status:  StatusDegraded,
			Message: fmt.Sprintf("only %d MB free", free/(1<<20)),
		}
	}
	return CheckResult{
		Status:  StatusHealthy,
		Message: fmt.Sprintf("%d MB free", free/(1<<20)),
	}
}

// EndpointChecker degrades when a companion HTTP service stops answering.
// Engines run as separate processes, so unreachability is degraded, not fatal.
type EndpointChecker struct {
	Component string
	URL       string
	Client    *http.Client
}

func (c EndpointChecker) Name() string { return c.Component }

func (c EndpointChecker) Check(ctx context.Context) CheckResult {
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.URL, nil)
	if err != nil {
		return CheckResult{Status: StatusUnhealthy, Error: err.Error()}
	}
	client := c.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return CheckResult{Status: StatusDegraded, Error: err.Error()}
	}
	_ = resp.Body.Close()
	if resp.StatusCode >= http.StatusInternalServerError {
		return CheckResult{
			Status:  StatusDegraded,
			Message: fmt.Sprintf("endpoint returned %d", resp.StatusCode),
		}
	}
	return CheckResult{Status: StatusHealthy}
}

// CredentialChecker degrades when an optional integration has no credential.
// Missing credentials are expected in reduced deployments, never fatal.
type CredentialChecker struct {
	Component  string
	Credential string
}

func (c CredentialChecker) Name() string { return c.Component }

func (c CredentialChecker) Check(context.Context) CheckResult {
	if c.Credential == "" {
		return CheckResult{Status: StatusDegraded, Message: "credential not configured"}
	}
	return CheckResult{Status: StatusHealthy}
}
