// Package logging configures the process-wide slog logger.
//
// Logs go to stderr and, when a file path is configured, to a size-rotated
// file under ~/.indexpool/logs/. JSON is the default format so pool events
// (task_rejected, running_set_conflict, lane_shutdown) stay machine-readable;
// the CLI switches to text when stderr is a terminal.
package logging
