// Package metrics exposes the outcome of runs as prometheus metrics.
//
// A backup runs as a short lived process: metrics are gathered in a registry owned by
// the run, then written in the text format for the node_exporter textfile collector.
package metrics

import (
	"sync"
	"time"

	"github.com/oneconcern/snapback/pkg/core"
	"github.com/oneconcern/snapback/pkg/model"
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "snapback"

// runMetrics declares the collectors of a run: scanStruct allocates them from the field tags
type runMetrics struct {
	Run struct {
		Duration  prometheus.Gauge `metric:"duration_seconds" description:"Duration of the last run"`
		Timestamp prometheus.Gauge `metric:"timestamp_seconds" description:"Time the last run completed, as a unix timestamp"`
		Success   prometheus.Gauge `metric:"success" description:"1 when the last run succeeded, 0 otherwise"`
	} `group:"run"`

	Stage struct {
		Duration *prometheus.GaugeVec   `metric:"duration_seconds" description:"Duration of each stage of the last run" labels:"stage"`
		Failures *prometheus.CounterVec `metric:"failures_total" description:"Stages which failed during the last run" labels:"stage"`
	} `group:"stage"`

	Destination struct {
		Used prometheus.Gauge `metric:"used_bytes" description:"Used space on the file system of the destination"`
		Size prometheus.Gauge `metric:"size_bytes" description:"Size of the file system of the destination"`
	} `group:"destination"`

	LastSuccess prometheus.Gauge       `metric:"last_success_timestamp_seconds" description:"Time of the last successful run, as a unix timestamp"`
	Rotations   *prometheus.CounterVec `metric:"rotations_total" description:"Tiers rotated during the last run" labels:"tier"`
	Transferred prometheus.Gauge       `metric:"transferred_files" description:"Files transferred by the last run, when the mover reports it"`
	Deleted     prometheus.Gauge       `metric:"deleted_files" description:"Files deleted by the last run, when the mover reports it"`
	Warnings    prometheus.Gauge       `metric:"warnings" description:"Warnings raised by the last run"`
}

// Run gathers the metrics of a single run of a job
type Run struct {
	job      string
	registry *prometheus.Registry
	m        runMetrics

	mu           sync.Mutex
	succeeded    bool
	finishedAt   time.Time
	previousDone float64
}

var _ core.Recorder = &Run{}

// NewRun creates the metrics of a run in a new registry
func NewRun(job string) *Run {
	r := &Run{
		job:      job,
		registry: prometheus.NewRegistry(),
	}
	scanStruct(&r.m, prometheus.Labels{"job_name": job}, r.registry.MustRegister)
	return r
}

// Registry holding the metrics of the run
func (r *Run) Registry() *prometheus.Registry {
	return r.registry
}

// StageDone implements core.Recorder
func (r *Run) StageDone(stage string, elapsed time.Duration, err error) {
	r.m.Stage.Duration.WithLabelValues(stage).Set(elapsed.Seconds())
	if err != nil {
		r.m.Stage.Failures.WithLabelValues(stage).Inc()
	}
}

// TierRotated implements core.Recorder
func (r *Run) TierRotated(tier model.TierName) {
	r.m.Rotations.WithLabelValues(string(tier)).Inc()
}

// RunDone implements core.Recorder
func (r *Run) RunDone(res core.Result, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.m.Run.Duration.Set(res.Elapsed().Seconds())
	r.m.Run.Timestamp.Set(float64(res.End.Unix()))
	r.m.Transferred.Set(float64(res.Transfer.Transferred))
	r.m.Deleted.Set(float64(res.Transfer.Deleted))
	r.m.Warnings.Set(float64(len(res.Warnings)))
	if res.Usage != nil {
		r.m.Destination.Used.Set(float64(res.Usage.Used))
		r.m.Destination.Size.Set(float64(res.Usage.Total))
	}

	r.succeeded = err == nil
	r.finishedAt = res.End
	if r.succeeded {
		r.m.Run.Success.Set(1)
		r.m.LastSuccess.Set(float64(res.End.Unix()))
	} else {
		r.m.Run.Success.Set(0)
		r.m.LastSuccess.Set(r.previousDone)
	}
}

// carryLastSuccess keeps the time of a previous success when the current run failed
func (r *Run) carryLastSuccess(previous float64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.previousDone = previous
	if !r.succeeded {
		r.m.LastSuccess.Set(previous)
	}
}
