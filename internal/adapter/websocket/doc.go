// Package websocket is the gorilla/websocket side of live demo connections:
// the upgrader with its origin policy, the frame transport the connection
// registry writes through, and the read pump feeding inbound frames.
package websocket
