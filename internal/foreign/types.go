package foreign

import (
	"fmt"

	"github.com/fyrsmithlabs/foreignd/internal/protocol"
)

// State is the lifecycle state of a Service.
type State string

const (
	StateUninitialized State = "uninitialized"
	StateActive        State = "active"
	StateDestroyed     State = "destroyed"
)

// ValidTransitions defines allowed state transitions.
var ValidTransitions = map[State][]State{
	StateUninitialized: {StateActive},
	StateActive:        {StateDestroyed},
	StateDestroyed:     {}, // terminal
}

// CanTransitionTo checks if a transition from s to target is valid.
func (s State) CanTransitionTo(target State) bool {
	for _, t := range ValidTransitions[s] {
		if t == target {
			return true
		}
	}
	return false
}

// Reason says why an object was torn down.
type Reason string

const (
	// ReasonRequest: the owning client destroyed the object.
	ReasonRequest Reason = "request"
	// ReasonUnmap: the window behind the object unmapped.
	ReasonUnmap Reason = "unmap"
	// ReasonReparent: the child window was given another parent.
	ReasonReparent Reason = "reparent"
	// ReasonRegistry: the owning exporter or importer went away.
	ReasonRegistry Reason = "registry"
	// ReasonImported: the owning imported object was destroyed.
	ReasonImported Reason = "imported"
	// ReasonClient: the owning client disconnected.
	ReasonClient Reason = "client"
	// ReasonService: the service was destroyed.
	ReasonService Reason = "service"
)

// Config holds registry configuration.
type Config struct {
	// MaxHandleAttempts bounds handle regeneration on collisions.
	MaxHandleAttempts int    `koanf:"max_handle_attempts"`
	ExporterVersion   uint32 `koanf:"exporter_version"`
	ImporterVersion   uint32 `koanf:"importer_version"`
}

// NewDefaultConfig returns the default configuration.
func NewDefaultConfig() *Config {
	return &Config{
		MaxHandleAttempts: 64,
		ExporterVersion:   protocol.ForeignVersion,
		ImporterVersion:   protocol.ForeignVersion,
	}
}

// Validate checks config for errors.
func (c *Config) Validate() error {
	if c.MaxHandleAttempts <= 0 {
		return fmt.Errorf("%w: got %d", ErrInvalidMaxAttempts, c.MaxHandleAttempts)
	}
	if c.ExporterVersion < 1 || c.ExporterVersion > protocol.ForeignVersion {
		return fmt.Errorf("%w: exporter_version %d", ErrInvalidVersion, c.ExporterVersion)
	}
	if c.ImporterVersion < 1 || c.ImporterVersion > protocol.ForeignVersion {
		return fmt.Errorf("%w: importer_version %d", ErrInvalidVersion, c.ImporterVersion)
	}
	return nil
}

// Snapshot is a point-in-time summary of the registry. Handles are never
// included; they are capabilities.
type Snapshot struct {
	State     State          `json:"state"`
	Exporters int            `json:"exporters"`
	Importers int            `json:"importers"`
	Exported  int            `json:"exported"`
	Imported  int            `json:"imported"`
	Linked    int            `json:"linked"`
	Children  int            `json:"children"`
	Exports   []ExportedInfo `json:"exports"`
}

// ExportedInfo describes one live export.
type ExportedInfo struct {
	ID      string `json:"id"`
	Client  string `json:"client"`
	Window  string `json:"window"`
	Imports int    `json:"imports"`
}
