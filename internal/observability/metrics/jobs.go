// Package metrics centralizes metric names and emission helpers so services
// do not hand-build tag maps.
package metrics

import (
	"time"

	"github.com/openparcel/jobcore/internal/observability/statsd"
)

// Metric names emitted by the engine.
const (
	MetricJobsSubmitted         = "jobs_submitted_total"
	MetricJobsCompleted         = "jobs_completed_total"
	MetricJobsFailed            = "jobs_failed_total"
	MetricJobsReconciled        = "jobs_reconciled_timeout_total"
	MetricJobDuration           = "job_processing_duration"
	MetricReconcilerSweep       = "reconciler.sweep"
	MetricReconcilerSweepTimer  = "reconciler.sweep_duration"
	MetricReconcilerSweepErrors = "reconciler.sweep_errors"
)

// Failure reasons recorded on jobs_failed_total.
const (
	FailureReasonExecutorError = "executor_error"
	FailureReasonPanic         = "panic"
	FailureReasonTimeout       = "timeout"
	FailureReasonNotFound      = "not_found"
)

// JobTags identifies the tenant and type a job metric belongs to.
type JobTags struct {
	TenantID string
	JobType  string
}

func (t JobTags) tags() map[string]string {
	return map[string]string{
		"tenant_id": t.TenantID,
		"job_type":  t.JobType,
	}
}

// EmitJobSubmitted increments the submission counter.
func EmitJobSubmitted(sink statsd.Sink, in JobTags) {
	if sink == nil {
		return
	}
	sink.Count(MetricJobsSubmitted, 1, in.tags())
}

// EmitJobCompleted increments the completion counter.
func EmitJobCompleted(sink statsd.Sink, in JobTags) {
	if sink == nil {
		return
	}
	sink.Count(MetricJobsCompleted, 1, in.tags())
}

// EmitJobFailed increments the failure counter with its failure reason.
func EmitJobFailed(sink statsd.Sink, in JobTags, reason string) {
	if sink == nil {
		return
	}
	tags := in.tags()
	tags["failure_reason"] = reason
	sink.Count(MetricJobsFailed, 1, tags)
}

// EmitJobDuration records the wall-clock time of one execution attempt,
// measured from load through the terminal write. Emitted on every path,
// including early exits that never run the handler.
func EmitJobDuration(sink statsd.Sink, in JobTags, d time.Duration) {
	if sink == nil || d < 0 {
		return
	}
	sink.Timing(MetricJobDuration, d, in.tags())
}

// EmitJobsReconciled increments the timeout-reconciliation counter for one
// tenant and job type.
func EmitJobsReconciled(sink statsd.Sink, in JobTags, count int64) {
	if sink == nil || count <= 0 {
		return
	}
	tags := in.tags()
	tags["failure_reason"] = FailureReasonTimeout
	sink.Count(MetricJobsReconciled, count, tags)
}

// EmitReconcilerSweep records that one reconciler sweep ran and how long it
// took.
func EmitReconcilerSweep(sink statsd.Sink, d time.Duration) {
	if sink == nil {
		return
	}
	sink.Count(MetricReconcilerSweep, 1, nil)
	sink.Timing(MetricReconcilerSweepTimer, d, nil)
}

// EmitReconcilerSweepError counts a failed sweep, tagged with the error class.
func EmitReconcilerSweepError(sink statsd.Sink, class string) {
	if sink == nil {
		return
	}
	tags := map[string]string{}
	if class != "" {
		tags["error_class"] = class
	}
	sink.Count(MetricReconcilerSweepErrors, 1, tags)
}
