// Package foreign implements the cross-client window export/import registry.
//
// One client exports a toplevel window and receives an opaque handle. Any
// other client can import that handle and declare its own toplevel windows
// logical children of the exported window. Neither client sees the other's
// objects; the handle is the only thing that crosses between them, so it is
// treated as a capability and never logged.
//
// # Object Graph
//
// Service: owns the two globals and every bound endpoint. Handles are
// unique across the service.
//
// Exporter / Exported: an Exporter is one client's exporter binding. Each
// Exported it owns holds a handle, the exported window and the set of
// Imported objects linked to it.
//
// Importer / Imported: an Importer is one client's importer binding. Each
// Imported holds an optional weak link to an Exported and the child
// relationships it forwarded to the window model.
//
// # Teardown
//
// There are three independent triggers: the exported window unmaps, the
// importing side goes away, and a child window unmaps or is reparented.
// Destroying an Exported disconnects every linked Imported first; the client
// is sent destroyed but its imported object survives, unlinked. Destroying
// an Importer disconnects, then drops the children of, then releases each
// Imported it owns. A child relationship is dropped whenever its window
// unmaps or is given another parent by anyone.
//
// # Concurrency
//
// A Service is driven from a single event loop. Handlers run to completion
// and every teardown walks a snapshot of the collection it is mutating.
//
// # Usage
//
//	d := display.New()
//	svc, err := foreign.New(d, nil, foreign.WithLogger(foreign.NewLogger(zapLogger)))
//	if err != nil {
//	    return err
//	}
//	defer svc.Destroy()
package foreign
