// Package connection owns every live WebSocket connection of the process.
//
// The Registry is an actor: one goroutine holds the connection maps and all
// admissions, activations and closes arrive as commands on its channel, each
// bounded by a timeout. Every Connection owns a writer goroutine so frames
// are written by exactly one goroutine per transport.
package connection
