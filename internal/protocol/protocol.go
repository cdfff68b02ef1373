// Package protocol defines the narrow host runtime surface the foreign
// registry is built against: globals, clients and client-owned resources.
//
// The interfaces mirror what a display server exposes to protocol
// extensions. Request decoding and object binding live in the host; the
// registry only creates resources, sends events and posts errors.
package protocol

import "github.com/fyrsmithlabs/foreignd/internal/signal"

// Interface names.
const (
	ExporterInterface = "zxdg_exporter_v1"
	ImporterInterface = "zxdg_importer_v1"
	ExportedInterface = "zxdg_exported_v1"
	ImportedInterface = "zxdg_imported_v1"
)

// ForeignVersion is the maximum supported version of both globals.
const ForeignVersion uint32 = 1

// Event names.
const (
	EventHandle    = "handle"
	EventDestroyed = "destroyed"
	EventError     = "error"
)

// Request names.
const (
	RequestDestroy     = "destroy"
	RequestExport      = "export"
	RequestImport      = "import"
	RequestSetParentOf = "set_parent_of"
)

// ErrorCode is a protocol error code posted to a client.
type ErrorCode uint32

// Core display error codes.
const (
	ErrorInvalidObject  ErrorCode = 0
	ErrorInvalidMethod  ErrorCode = 1
	ErrorNoMemory       ErrorCode = 2
	ErrorImplementation ErrorCode = 3
)

// ErrorRole is posted when a surface has the wrong role for a request.
// The foreign protocol defines no error enum of its own.
const ErrorRole = ^ErrorCode(0)

// ObjectID identifies a resource within one client.
type ObjectID uint32

// BindFunc is called when a client binds a global.
type BindFunc func(client Client, version uint32, id ObjectID)

// Host is the display a protocol extension registers with.
type Host interface {
	// CreateGlobal advertises a global. bind is invoked for every client
	// that binds it.
	CreateGlobal(iface string, version uint32, bind BindFunc) (Global, error)
	// OnDestroy registers fn to run when the host begins shutting down.
	OnDestroy(fn func()) signal.Canceler
}

// Global is an advertised global object.
type Global interface {
	Interface() string
	Version() uint32
	Destroy()
}

// Client is one connected client.
type Client interface {
	ID() string
	// NewResource creates a client-owned object. It fails when the client
	// cannot allocate another object.
	NewResource(iface string, version uint32, id ObjectID) (Resource, error)
	// PostNoMemory reports an allocation failure to the client.
	PostNoMemory()
}

// Resource is a client-owned protocol object.
type Resource interface {
	ID() ObjectID
	Interface() string
	Version() uint32
	Client() Client
	// SetImplementation attaches the request handler and the function run
	// exactly once when the resource is destroyed for any reason.
	SetImplementation(impl any, onDestroy func())
	Implementation() any
	// Send queues an event to the client.
	Send(event string, args ...any)
	// PostError reports a fatal protocol error. The host disconnects the
	// client once the current request returns.
	PostError(code ErrorCode, msg string)
	// Destroy destroys the resource and runs its destroy handler.
	Destroy()
}
