// Package health provides health checks for a running simulation.
//
// Checks cover the shared worker pool, the batching encoder pipeline and
// the optional snapshot store. Combine folds them into one Status.
//
// # Health Status Priority
//
// When combining health checks with Combine(), the result follows this priority:
//
//   - Unhealthy: If any check is unhealthy, the combined result is unhealthy
//   - Degraded: If any check is degraded (and none unhealthy), the result is degraded
//   - Healthy: If all checks are healthy, the result is healthy
//
// # Context and Timeouts
//
// StoreCheck accepts a context for timeout and cancellation control.
// If nil is passed, a default 5-second timeout is used.
package health
