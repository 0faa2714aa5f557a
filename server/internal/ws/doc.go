// Package ws is the hub's WebSocket transport.
//
// Hub accepts connections from clients and worker services, assigns each a
// connection id, and hands it to a Handler (the router):
//
//	Open   once, right after the upgrade; the router greets with Initialise
//	Handle once per inbound text message, in order, on the read goroutine
//	Close  once, after the read loop ends
//
// Outbound messages go through a per-connection buffered channel drained by
// a write goroutine that also sends pings. Send never blocks: a peer whose
// buffer is full is disconnected. Inbound messages can be rate limited per
// connection with golang.org/x/time/rate.
//
// The upgrader accepts all origins. Apply CORS restrictions at the reverse
// proxy. The server mounts the endpoint at /ws.
package ws
