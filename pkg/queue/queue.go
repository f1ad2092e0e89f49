package queue

import (
	"context"
	"sync"
	"time"

	"github.com/chomhq/chom/pkg/log"
	"github.com/chomhq/chom/pkg/retry"
)

// Job is a unit of background work. Jobs are single-attempt-synchronous
// internally; the queue owns retries.
type Job interface {
	// Name identifies the job type for settings lookup and logging
	Name() string

	// Run executes one attempt
	Run(ctx context.Context) error
}

// Exhauster is implemented by jobs that want a terminal callback once
// every queue-level attempt has failed.
type Exhauster interface {
	Exhausted(lastErr error)
}

// Settings configures retry behaviour for one job type
type Settings struct {
	Attempts int           // Total attempts including the first
	Backoff  time.Duration // Delay between attempts, jittered
	Timeout  time.Duration // Per-attempt timeout; zero means none
}

// Queue is an in-process background job queue with a fixed worker pool
// and per-job-type retry settings.
type Queue struct {
	workers  int
	settings map[string]Settings
	fallback Settings

	tasks  chan *task
	wg     sync.WaitGroup
	stopCh chan struct{}
	mu     sync.RWMutex
}

type task struct {
	job     Job
	attempt int // Zero-based
}

// New creates a queue with the given worker count
func New(workers int) *Queue {
	if workers <= 0 {
		workers = 1
	}
	return &Queue{
		workers:  workers,
		settings: make(map[string]Settings),
		fallback: Settings{Attempts: 1},
		tasks:    make(chan *task, 256),
		stopCh:   make(chan struct{}),
	}
}

// Configure sets retry settings for a job type
func (q *Queue) Configure(jobName string, s Settings) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.settings[jobName] = s
}

// Start launches the worker pool
func (q *Queue) Start() {
	for i := 0; i < q.workers; i++ {
		q.wg.Add(1)
		go q.worker()
	}
}

// Stop drains nothing; it stops workers after their current attempt.
func (q *Queue) Stop() {
	close(q.stopCh)
	q.wg.Wait()
}

// Enqueue submits a job for execution
func (q *Queue) Enqueue(job Job) {
	select {
	case q.tasks <- &task{job: job}:
	case <-q.stopCh:
	}
}

// Schedule enqueues a fresh job from factory on every tick until the
// queue stops.
func (q *Queue) Schedule(interval time.Duration, factory func() Job) {
	q.wg.Add(1)
	go func() {
		defer q.wg.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				q.Enqueue(factory())
			case <-q.stopCh:
				return
			}
		}
	}()
}

func (q *Queue) worker() {
	defer q.wg.Done()
	for {
		select {
		case t := <-q.tasks:
			q.execute(t)
		case <-q.stopCh:
			return
		}
	}
}

func (q *Queue) settingsFor(jobName string) Settings {
	q.mu.RLock()
	defer q.mu.RUnlock()
	if s, ok := q.settings[jobName]; ok {
		return s
	}
	return q.fallback
}

func (q *Queue) execute(t *task) {
	s := q.settingsFor(t.job.Name())
	logger := log.WithComponent("queue")

	ctx := context.Background()
	var cancel context.CancelFunc
	if s.Timeout > 0 {
		ctx, cancel = context.WithTimeout(ctx, s.Timeout)
	} else {
		ctx, cancel = context.WithCancel(ctx)
	}
	err := t.job.Run(ctx)
	cancel()

	if err == nil {
		return
	}

	attempts := s.Attempts
	if attempts <= 0 {
		attempts = 1
	}

	if t.attempt+1 >= attempts {
		logger.Error().
			Str("job", t.job.Name()).
			Int("attempts", t.attempt+1).
			Err(err).
			Msg("job exhausted all attempts")
		if ex, ok := t.job.(Exhauster); ok {
			ex.Exhausted(err)
		}
		return
	}

	// Jittered fixed backoff between queue-level attempts. Jitter keeps
	// mass failures (a node outage affecting dozens of sites) from
	// retrying in lockstep.
	delay := retry.Policy{
		InitialDelay: s.Backoff,
		MaxDelay:     s.Backoff,
		Multiplier:   1.0,
		Jitter:       true,
	}.Delay(t.attempt)

	logger.Warn().
		Str("job", t.job.Name()).
		Int("attempt", t.attempt+1).
		Dur("delay", delay).
		Err(err).
		Msg("job failed, will retry")

	next := &task{job: t.job, attempt: t.attempt + 1}
	timer := time.AfterFunc(delay, func() {
		select {
		case q.tasks <- next:
		case <-q.stopCh:
		}
	})
	// Stop pending retries on shutdown.
	go func() {
		<-q.stopCh
		timer.Stop()
	}()
}
