// Package feed is the public face of the ticker client.
//
// A Registry hands out Handles for sets of symbols. Symbols requested by
// several handles share one exchange subscription; the registry counts
// references and tears a subscription down as soon as the last handle that
// wants it is released. Each symbol is owned by exactly one
// connection.Supervisor at a time, and every decoded update lands in a shared
// store.Store that callers read through the Registry or their Handle.
//
// Watch callbacks run on the supervisor goroutine. Consumers that cannot keep
// up push into a Queue, which keeps only the newest update per symbol.
package feed
