package queuex

import (
	"context"

	"github.com/partline/partline/pkg/asyncx"
	"github.com/partline/partline/pkg/logx"
)

// HealthThresholds are the per-queue limits that trigger alerts.
type HealthThresholds struct {
	// FailedCount flags a queue holding more failed jobs than this.
	FailedCount int
	// WaitingCount flags a backlog larger than this.
	WaitingCount int
	// TotalStalls flags a queue whose cumulative stall count exceeds this,
	// usually a crashing or hanging handler.
	TotalStalls int64
}

// DefaultHealthThresholds returns the production thresholds.
func DefaultHealthThresholds() HealthThresholds {
	return HealthThresholds{
		FailedCount:  100,
		WaitingCount: 1000,
		TotalStalls:  5,
	}
}

// Alert is one threshold violation observed on a queue.
type Alert struct {
	Queue  string `json:"queue"`
	Reason string `json:"reason"`
	Value  int64  `json:"value"`
}

// HealthMonitor periodically inspects queue stats and emits warnings when
// thresholds are exceeded. It only observes; it never mutates queue state.
type HealthMonitor struct {
	registry   *Registry
	thresholds HealthThresholds
}

// NewHealthMonitor creates a monitor over the registry's queues.
func NewHealthMonitor(registry *Registry, thresholds HealthThresholds) *HealthMonitor {
	if thresholds == (HealthThresholds{}) {
		thresholds = DefaultHealthThresholds()
	}
	return &HealthMonitor{
		registry:   registry,
		thresholds: thresholds,
	}
}

// Check collects stats from every queue concurrently, logs a structured
// warning per violation and returns the alerts. A queue whose stats cannot
// be read produces an alert instead of aborting the sweep.
func (m *HealthMonitor) Check(ctx context.Context) []Alert {
	queues := m.registry.All()

	results := asyncx.AllSettled(ctx, statFuncs(queues)...)

	var alerts []Alert
	for i, res := range results {
		name := queues[i].Name()
		if !res.OK() {
			alerts = append(alerts, Alert{Queue: name, Reason: "stats unavailable"})
			logx.WithError(res.Err).WithField("queue", name).Warn("queuex: health check could not read stats")
			continue
		}
		alerts = append(alerts, m.evaluate(res.Value)...)
	}

	for _, a := range alerts {
		if a.Reason == "stats unavailable" {
			continue
		}
		logx.WithFields(logx.Fields{
			"queue":  a.Queue,
			"reason": a.Reason,
			"value":  a.Value,
		}).Warn("queuex: health alert")
	}

	return alerts
}

func (m *HealthMonitor) evaluate(stats *Stats) []Alert {
	var alerts []Alert

	if stats.Paused {
		alerts = append(alerts, Alert{Queue: stats.Queue, Reason: "queue paused"})
	}
	if failed := stats.Counts[StateFailed]; failed > m.thresholds.FailedCount {
		alerts = append(alerts, Alert{Queue: stats.Queue, Reason: "high failure rate", Value: int64(failed)})
	}
	if waiting := stats.Counts[StateWaiting]; waiting > m.thresholds.WaitingCount {
		alerts = append(alerts, Alert{Queue: stats.Queue, Reason: "backlog growing", Value: int64(waiting)})
	}
	if stats.TotalStalls > m.thresholds.TotalStalls {
		alerts = append(alerts, Alert{Queue: stats.Queue, Reason: "repeated stalls", Value: stats.TotalStalls})
	}

	return alerts
}

func statFuncs(queues []*Queue) []func(context.Context) (*Stats, error) {
	fns := make([]func(context.Context) (*Stats, error), len(queues))
	for i, q := range queues {
		q := q
		fns[i] = func(ctx context.Context) (*Stats, error) {
			return q.Stats(ctx)
		}
	}
	return fns
}
