// Package client is the peer side of a live demo connection. Manager keeps a
// WebSocket open with its own JSON heartbeat and reconnects after abnormal
// closures with exponential backoff and a bounded number of attempts.
package client
