// Package writer mirrors the latest-value store into Redis and Postgres.
//
// The mirror coalesces updates per symbol between flushes, so a burst of
// frames for one symbol costs a single write. Each flush is one round trip:
// a pipeline for Redis, a pgx.Batch for Postgres. Symbols that leave the
// store are deleted on the next periodic flush. The final flush on Stop
// only writes, so a shutting-down process leaves its last values behind;
// Redis keys carry a TTL so they do not outlive the process indefinitely.
//
// Redis keys look like "latest:<exchange>:<SYMBOL>" and hold the JSON
// encoding of model.TickerUpdate. Postgres keeps one row per
// (exchange, symbol) and never moves a row back to an older observed_at.
package writer
