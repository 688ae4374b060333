// Package jobmanager schedules and guards the batch refresh jobs.
package jobmanager

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"

	"github.com/bobmcallan/pricecache/internal/common"
	"github.com/bobmcallan/pricecache/internal/interfaces"
	"github.com/bobmcallan/pricecache/internal/models"
)

var (
	// ErrJobRunning is returned when a run of the same job is already active.
	ErrJobRunning = errors.New("job already running")

	// ErrUnknownJob is returned for job names other than incremental and full.
	ErrUnknownJob = errors.New("unknown job")
)

// Reloader re-reads the persisted snapshot after a batch run.
type Reloader interface {
	Reload(ctx context.Context) error
}

type jobState struct {
	running   bool
	runID     string
	startedAt time.Time
	last      *models.RefreshReport
	lastErr   string
	runs      int
}

// JobManager runs the refresh jobs on a daily schedule and on demand. At most
// one run of each job is active at a time; a trigger that finds its job running
// is rejected.
type JobManager struct {
	runner interfaces.RefreshRunner
	store  Reloader
	logger *common.Logger
	config common.RefreshConfig

	mu   sync.Mutex
	jobs map[string]*jobState
	cron *cron.Cron

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewJobManager creates a job manager. On-demand triggers work without Start.
func NewJobManager(
	runner interfaces.RefreshRunner,
	store Reloader,
	logger *common.Logger,
	config common.RefreshConfig,
) *JobManager {
	ctx, cancel := context.WithCancel(context.Background())
	return &JobManager{
		runner: runner,
		store:  store,
		logger: logger,
		config: config,
		jobs: map[string]*jobState{
			models.JobIncremental: {},
			models.JobFull:        {},
		},
		ctx:    ctx,
		cancel: cancel,
	}
}

// safeGo launches a goroutine with panic recovery and logging.
func (jm *JobManager) safeGo(name string, fn func()) {
	jm.wg.Add(1)
	go func() {
		defer jm.wg.Done()
		defer func() {
			if r := recover(); r != nil {
				jm.logger.Error().
					Str("goroutine", name).
					Str("panic", fmt.Sprintf("%v", r)).
					Str("stack", string(debug.Stack())).
					Msg("Recovered from panic in job manager goroutine")
			}
		}()
		fn()
	}()
}

// Start registers the daily incremental schedule and the startup run.
// Does nothing beyond logging when the schedule is disabled.
func (jm *JobManager) Start() error {
	if !jm.config.Enabled {
		jm.logger.Info().Msg("Refresh schedule disabled, on-demand triggers only")
		return nil
	}

	jm.mu.Lock()
	if jm.cron != nil {
		jm.mu.Unlock()
		return nil
	}
	c := cron.New(cron.WithLocation(time.UTC))
	if _, err := c.AddFunc(jm.config.Schedule, func() { jm.scheduled(models.JobIncremental, "cron") }); err != nil {
		jm.mu.Unlock()
		return fmt.Errorf("register refresh schedule %q: %w", jm.config.Schedule, err)
	}
	jm.cron = c
	jm.mu.Unlock()

	c.Start()
	jm.logger.Info().
		Str("schedule", jm.config.Schedule).
		Bool("run_on_start", jm.config.RunOnStart).
		Msg("Refresh schedule started")

	if jm.config.RunOnStart {
		jm.scheduled(models.JobIncremental, "startup")
	}
	return nil
}

// scheduled fires a job from the scheduler; an overlapping tick is skipped.
func (jm *JobManager) scheduled(job, origin string) {
	runID, err := jm.Trigger(job)
	if err != nil {
		jm.logger.Warn().Str("job", job).Str("origin", origin).Err(err).Msg("Scheduled refresh skipped")
		return
	}
	jm.logger.Info().Str("job", job).Str("origin", origin).Str("run_id", runID).Msg("Scheduled refresh triggered")
}

// Stop halts the schedule, cancels in-flight runs and waits for them.
func (jm *JobManager) Stop() {
	jm.mu.Lock()
	c := jm.cron
	jm.cron = nil
	jm.mu.Unlock()

	if c != nil {
		<-c.Stop().Done()
	}
	jm.cancel()
	jm.wg.Wait()
	jm.logger.Info().Msg("Job manager stopped")
}

// Trigger starts job in the background and returns its run ID.
func (jm *JobManager) Trigger(job string) (string, error) {
	runID, err := jm.acquire(job)
	if err != nil {
		return "", err
	}
	jm.safeGo("refresh-"+job, func() {
		jm.execute(jm.ctx, job, runID)
	})
	return runID, nil
}

// Run executes job synchronously under the same overlap guard as Trigger.
func (jm *JobManager) Run(ctx context.Context, job string) (*models.RefreshReport, error) {
	runID, err := jm.acquire(job)
	if err != nil {
		return nil, err
	}
	return jm.execute(ctx, job, runID)
}

func (jm *JobManager) acquire(job string) (string, error) {
	jm.mu.Lock()
	defer jm.mu.Unlock()

	st, ok := jm.jobs[job]
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownJob, job)
	}
	if st.running {
		return "", fmt.Errorf("%s (run %s): %w", job, st.runID, ErrJobRunning)
	}
	st.running = true
	st.runID = uuid.New().String()
	st.startedAt = time.Now()
	return st.runID, nil
}

func (jm *JobManager) execute(ctx context.Context, job, runID string) (report *models.RefreshReport, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("refresh %s panicked: %v", job, r)
			jm.release(job, nil, err)
			panic(r)
		}
		jm.release(job, report, err)
	}()

	jm.logger.Info().Str("job", job).Str("run_id", runID).Msg("Refresh job running")

	switch job {
	case models.JobFull:
		report, err = jm.runner.RefreshFull(ctx)
	default:
		report, err = jm.runner.RefreshIncremental(ctx)
	}
	if err != nil {
		jm.logger.Error().Str("job", job).Str("run_id", runID).Err(err).Msg("Refresh job failed")
		return nil, err
	}
	report.RunID = runID

	if !report.Persisted() {
		jm.logger.Warn().Str("job", job).Str("run_id", runID).Str("persist_error", report.PersistError).
			Msg("Snapshot not persisted, skipping reload and keeping in-memory cache")
		return report, nil
	}
	if err := jm.store.Reload(ctx); err != nil {
		jm.logger.Warn().Str("job", job).Str("run_id", runID).Err(err).Msg("Reload after refresh failed")
	}
	return report, nil
}

func (jm *JobManager) release(job string, report *models.RefreshReport, err error) {
	jm.mu.Lock()
	defer jm.mu.Unlock()
	st := jm.jobs[job]
	st.running = false
	st.runs++
	if report != nil {
		st.last = report
	}
	st.lastErr = ""
	if err != nil {
		st.lastErr = err.Error()
	}
}

// Status returns the state of each job, incremental first.
func (jm *JobManager) Status() []models.JobStatus {
	jm.mu.Lock()
	defer jm.mu.Unlock()

	out := make([]models.JobStatus, 0, len(jm.jobs))
	for _, name := range []string{models.JobIncremental, models.JobFull} {
		st := jm.jobs[name]
		s := models.JobStatus{
			Job:       name,
			Running:   st.running,
			LastError: st.lastErr,
			Runs:      st.runs,
		}
		if st.running {
			s.RunID = st.runID
			s.StartedAt = st.startedAt
		}
		if st.last != nil {
			r := *st.last
			s.LastReport = &r
		}
		out = append(out, s)
	}
	return out
}
