// Package store holds the latest ticker value per symbol.
//
// Each symbol has its own entry whose value is swapped atomically, so writers
// for different symbols never wait on each other and readers never see a
// half-written record. The map of entries is guarded by a short-held lock
// that is never held across I/O or callbacks.
//
// A write older than the stored value is rejected and counted; equal
// timestamps overwrite.
package store
