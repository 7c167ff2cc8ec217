package api

import "github.com/mattjoyce/tasklog/internal/audit"

// LogTextResponse is returned by the view and roll endpoints.
type LogTextResponse struct {
	Host string `json:"host"`
	Path string `json:"path"`
	Msg  string `json:"msg"`
}

// RemoveLogsRequest is the JSON body for DELETE /v1/logs.
type RemoveLogsRequest struct {
	Host  string   `json:"host" validate:"required,notblank,hostname_port"`
	Paths []string `json:"paths" validate:"dive,required,notblank"`
}

// RemoveLogsResponse reports one status for the whole batch.
type RemoveLogsResponse struct {
	Host   string `json:"host"`
	Status bool   `json:"status"`
}

// AuditResponse is returned by GET /v1/audit.
type AuditResponse struct {
	Entries []*audit.Entry `json:"entries"`
}

// ErrorResponse is returned on errors
type ErrorResponse struct {
	Error string `json:"error"`
}

// HealthzResponse is returned by GET /healthz.
type HealthzResponse struct {
	Status        string `json:"status"`
	UptimeSeconds int64  `json:"uptime_seconds"`
}
