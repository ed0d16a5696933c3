package health

import (
	"context"
	"fmt"
	"time"
)

// PoolStats is the view of a worker pool needed by PoolCheck.
type PoolStats interface {
	Size() int
	Busy() int
	Queued() int
	Capacity() int
	Closed() bool
}

// Pinger is anything that can verify its own connectivity.
type Pinger interface {
	Ping(ctx context.Context) error
}

// PoolCheck reports a closed pool as unhealthy, and a pool whose workers are
// all busy with work still queued as degraded.
//
// Example:
//
//	status := health.PoolCheck(p)
//	if status.IsDegraded() {
//	    logger.Warn("worker pool saturated", "details", status.Details)
//	}
func PoolCheck(p PoolStats) Status {
	if p == nil {
		return Unhealthy("pool not configured", nil)
	}
	details := map[string]any{
		"size":     p.Size(),
		"busy":     p.Busy(),
		"queued":   p.Queued(),
		"capacity": p.Capacity(),
	}
	if p.Closed() {
		return Unhealthy("pool is closed", details)
	}
	if p.Capacity() > 0 && p.Queued() >= p.Capacity() {
		return Unhealthy("pool queue is full", details)
	}
	if p.Busy() >= p.Size() && p.Queued() > 0 {
		return Degraded(fmt.Sprintf("all %d workers busy", p.Size()), details)
	}
	return Healthy(fmt.Sprintf("%d of %d workers busy", p.Busy(), p.Size()))
}

// PipelineCheck reports the encoder pipeline as degraded once more than
// threshold jobs are waiting. A threshold <= 0 disables the check.
func PipelineCheck(queued, threshold int) Status {
	if threshold > 0 && queued > threshold {
		return Degraded(
			fmt.Sprintf("%d encode jobs queued, threshold %d", queued, threshold),
			map[string]any{
				"queued":    queued,
				"threshold": threshold,
			},
		)
	}
	return Healthy(fmt.Sprintf("%d encode jobs queued", queued))
}

// StoreCheck pings a snapshot store. A nil store is healthy since
// persistence is optional.
//
// Example:
//
//	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
//	defer cancel()
//	status := health.StoreCheck(ctx, s)
func StoreCheck(ctx context.Context, p Pinger) Status {
	if p == nil {
		return Healthy("no store configured")
	}

	if ctx == nil {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
	}

	start := time.Now()
	if err := p.Ping(ctx); err != nil {
		return Unhealthy("store unreachable", map[string]any{
			"error": err.Error(),
		})
	}
	return Healthy(fmt.Sprintf("store reachable in %s", time.Since(start).Round(time.Millisecond)))
}

// Combine aggregates multiple health checks into a single status.
// The result follows this priority:
//   - If any check is unhealthy, the result is unhealthy
//   - If any check is degraded (and none unhealthy), the result is degraded
//   - If all checks are healthy, the result is healthy
//
// Example:
//
//	status := health.Combine(
//	    health.PoolCheck(p),
//	    health.PipelineCheck(queued, 100),
//	    health.StoreCheck(ctx, s),
//	)
func Combine(checks ...Status) Status {
	if len(checks) == 0 {
		return Healthy("no checks provided")
	}

	var unhealthyChecks []string
	var degradedChecks []string
	var healthyCount int

	for _, check := range checks {
		msg := check.Message
		if msg == "" {
			msg = "unnamed check"
		}
		switch check.State {
		case StatusUnhealthy:
			unhealthyChecks = append(unhealthyChecks, msg)
		case StatusDegraded:
			degradedChecks = append(degradedChecks, msg)
		case StatusHealthy:
			healthyCount++
		}
	}

	if len(unhealthyChecks) > 0 {
		return Unhealthy(
			fmt.Sprintf("%d check(s) failed", len(unhealthyChecks)),
			map[string]any{
				"total":         len(checks),
				"unhealthy":     len(unhealthyChecks),
				"degraded":      len(degradedChecks),
				"healthy":       healthyCount,
				"failed_checks": unhealthyChecks,
			},
		)
	}

	if len(degradedChecks) > 0 {
		return Degraded(
			fmt.Sprintf("%d check(s) degraded", len(degradedChecks)),
			map[string]any{
				"total":           len(checks),
				"degraded":        len(degradedChecks),
				"healthy":         healthyCount,
				"degraded_checks": degradedChecks,
			},
		)
	}

	return Healthy(fmt.Sprintf("all %d check(s) passed", len(checks)))
}
