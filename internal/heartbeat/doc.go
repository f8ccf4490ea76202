// Package heartbeat detects dead connections with a wall-clock ping cycle.
// A connection that has not answered the previous tick's ping by the next
// tick is reported dead.
package heartbeat
