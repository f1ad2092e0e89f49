package coherency

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/chomhq/chom/pkg/events"
	"github.com/chomhq/chom/pkg/notify"
)

// Job runs the engine under the queue's coherency settings. When the
// run finds drift, administrators are notified and OnReport (the
// remediator hook) receives the full report.
type Job struct {
	engine   *Engine
	full     bool
	notifier notify.Notifier
	broker   *events.Broker

	// OnReport fires after a run that found issues. Nil means detection
	// only.
	OnReport func(ctx context.Context, report *Report)
}

// NewJob builds a coherency job.
func NewJob(engine *Engine, full bool, notifier notify.Notifier, broker *events.Broker) *Job {
	if notifier == nil {
		notifier = notify.NewLogNotifier()
	}
	return &Job{engine: engine, full: full, notifier: notifier, broker: broker}
}

func (j *Job) Name() string { return "coherency" }

func (j *Job) Run(ctx context.Context) error {
	report, err := j.engine.Run(ctx, j.full)
	if err != nil {
		return err
	}
	if report.TotalIssues == 0 {
		return nil
	}

	j.notifier.DriftFound(report.TotalIssues, report.CheckType)
	if j.broker != nil {
		j.broker.Publish(&events.Event{
			ID:        uuid.NewString(),
			Type:      events.EventDriftDetected,
			Timestamp: time.Now().UTC(),
			Message:   fmt.Sprintf("%d coherency issues (%s check)", report.TotalIssues, report.CheckType),
			Metadata:  map[string]string{"check_type": report.CheckType},
		})
	}
	if j.OnReport != nil {
		j.OnReport(ctx, report)
	}
	return nil
}
