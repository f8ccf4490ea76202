// Package app provides the application service layer.
//
// Orchestrates use cases: session creation and teardown, connection admission
// and activation, client message dispatch, simulation control, demo previews
// and telemetry ingestion. Sits between the HTTP/WebSocket adapters and the
// registries, and owns the wiring between them.
package app
