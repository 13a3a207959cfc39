// Package logging builds the process slog.Logger from configuration.
//
// Output goes to stdout, stderr or a file rotated by lumberjack, in text or
// JSON form.
package logging
