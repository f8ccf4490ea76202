// Package simulation drives the per-session demo simulations: a ticking
// Driver per session and the deterministic payload generators for each
// demo type.
package simulation
