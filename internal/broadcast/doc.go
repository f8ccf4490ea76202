// Package broadcast fans simulation events out to the Open connections of a
// session and to in-process subscribers.
//
// Each connection is sent to in parallel with its own timeout. A failed send
// closes only that connection; the rest of the fan-out continues.
package broadcast
