package http

import (
	"github.com/fyrsmithlabs/foreignd/internal/foreign"
	"github.com/fyrsmithlabs/foreignd/internal/telemetry"
)

// HealthResponse is the response body for GET /health.
type HealthResponse struct {
	Status    string                  `json:"status"` // "ok" or "degraded"
	Service   foreign.State           `json:"service,omitempty"`
	Telemetry *telemetry.HealthStatus `json:"telemetry,omitempty"`
}

// StateResponse is the response body for GET /api/v1/state.
type StateResponse struct {
	foreign.Snapshot
}

// ExportsResponse is the response body for GET /api/v1/exports.
type ExportsResponse struct {
	Exports []foreign.ExportedInfo `json:"exports"`
	Total   int                    `json:"total"`
}

// ErrorResponse carries the message of a failed request.
type ErrorResponse struct {
	Message string `json:"message"`
}
