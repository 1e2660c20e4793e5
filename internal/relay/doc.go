// Package relay implements the polling loop that moves live metrics and log
// lines from the shared store to subscribers.
//
// Each cycle:
//   - reads the cpu and memory values for the configured host
//   - pops at most one line from the log queue
//   - broadcasts a metrics_update (always) followed by a log_update (when a
//     line was popped)
//   - waits for the poll interval
//
// Store failures and unparsable values are logged and reported as absent for
// that cycle; nothing inside a cycle stops the loop.
package relay
