// Package codec turns exchange-specific WebSocket frames into model.TickerUpdate.
//
// Each supported exchange has an Adapter that declares:
//   - the event-type discriminator it recognizes and the field mapping into TickerUpdate
//   - the connection strategy (one symbol per connection, or many multiplexed)
//   - how to build the stream endpoint and any subscribe/unsubscribe control frames
//
// Decoding is pure: no I/O, no shared state. Unrecognized frames (acks, pongs,
// other event types) and malformed frames are reported as *model.DecodeError and
// are expected to be dropped by the caller without closing the connection.
package codec
