// Package connection owns the physical streaming connections.
//
// A Client is one gorilla/websocket connection with a read loop, a heartbeat
// loop and a read-silence deadline. A Supervisor owns one logical feed: it
// dials through a Dialer, keeps the exchange subscription in sync with its
// symbol set, decodes frames with a codec.Adapter and publishes them to a
// Sink. Lost connections are re-established with capped exponential backoff
// until the attempt budget runs out, at which point the Supervisor parks in
// the Failed state.
package connection
