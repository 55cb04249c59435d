package pipeline

import (
	"context"
	stderrors "errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/nijaru/yt-script/errors"
	"github.com/nijaru/yt-script/models"
	"github.com/nijaru/yt-script/progress"
	"github.com/nijaru/yt-script/repository"
	"github.com/sirupsen/logrus"
)

// Archive stores finished runs outside the database.
type Archive interface {
	SaveResult(ctx context.Context, run *models.Run) error
}

type RunnerConfig struct {
	Workers         int
	QueueSize       int
	RunTimeout      time.Duration
	MonitorInterval time.Duration
	HungTimeout     time.Duration
}

func DefaultRunnerConfig() RunnerConfig {
	return RunnerConfig{
		Workers:         2,
		QueueSize:       20,
		RunTimeout:      3 * time.Hour,
		MonitorInterval: 5 * time.Minute,
		HungTimeout:     30 * time.Minute,
	}
}

const saveTimeout = 10 * time.Second

type job struct {
	run        *models.Run
	clientID   string
	ctx        context.Context
	cancelFunc context.CancelFunc
	startTime  time.Time
	result     *models.Result
	err        error
}

// Runner executes pipeline runs, either inline for the caller or on a pool
// of background workers, and keeps their state in the run repository.
type Runner struct {
	svc        Service
	repo       repository.RunRepository
	archive    Archive
	publisher  progress.Publisher
	config     RunnerConfig
	jobs       chan *job
	activeJobs map[string]*job
	mu         sync.Mutex
	quit       chan struct{}
	closeOnce  sync.Once
	wg         sync.WaitGroup
	logger     *logrus.Entry
}

// NewRunner wires a runner. archive and publisher may be nil.
func NewRunner(svc Service, repo repository.RunRepository, archive Archive, publisher progress.Publisher, config RunnerConfig) *Runner {
	if config.Workers <= 0 {
		config.Workers = 1
	}
	if config.QueueSize <= 0 {
		config.QueueSize = DefaultRunnerConfig().QueueSize
	}
	if publisher == nil {
		publisher = progress.Noop{}
	}
	return &Runner{
		svc:        svc,
		repo:       repo,
		archive:    archive,
		publisher:  publisher,
		config:     config,
		jobs:       make(chan *job, config.QueueSize),
		activeJobs: make(map[string]*job),
		quit:       make(chan struct{}),
		logger:     logrus.WithField("component", "runner"),
	}
}

// Start launches the workers and the hung run monitor.
func (r *Runner) Start() {
	for i := 0; i < r.config.Workers; i++ {
		r.wg.Add(1)
		go r.worker(i)
	}
	if r.config.MonitorInterval > 0 {
		r.wg.Add(1)
		go r.monitorHungJobs()
	}
}

func (r *Runner) newJob(parent context.Context, videoURL string, settings models.Settings, clientID string) *job {
	var (
		ctx    context.Context
		cancel context.CancelFunc
	)
	if r.config.RunTimeout > 0 {
		ctx, cancel = context.WithTimeout(parent, r.config.RunTimeout)
	} else {
		ctx, cancel = context.WithCancel(parent)
	}

	return &job{
		run: &models.Run{
			ID:       uuid.NewString(),
			URL:      videoURL,
			Title:    VideoTitle(videoURL),
			Status:   models.StatusQueued,
			Settings: settings,
		},
		clientID:   clientID,
		ctx:        ctx,
		cancelFunc: cancel,
		startTime:  time.Now(),
	}
}

// Submit queues a run for the background workers and returns it in the
// queued state.
func (r *Runner) Submit(ctx context.Context, videoURL string, settings models.Settings, clientID string) (*models.Run, error) {
	const op = "Runner.Submit"

	j := r.newJob(context.Background(), videoURL, settings, clientID)
	if err := r.repo.Save(ctx, j.run); err != nil {
		j.cancelFunc()
		return nil, err
	}
	snapshot := *j.run

	r.mu.Lock()
	select {
	case <-r.quit:
		r.mu.Unlock()
		j.cancelFunc()
		r.abandon(j, "Server is shutting down")
		return nil, errors.Configuration(op, "Runner is closed")
	default:
	}
	select {
	case r.jobs <- j:
		r.activeJobs[j.run.ID] = j
		r.mu.Unlock()
	default:
		r.mu.Unlock()
		j.cancelFunc()
		r.abandon(j, "Run queue is full")
		return nil, errors.QueueFull(op)
	}

	r.logger.WithFields(logrus.Fields{
		"run_id":    snapshot.ID,
		"url":       videoURL,
		"client_id": clientID,
		"queued":    len(r.jobs),
	}).Info("Run queued")
	return &snapshot, nil
}

// Execute runs the pipeline on the calling goroutine. The returned error is
// the pipeline's hard failure, if any; the run is persisted either way.
func (r *Runner) Execute(ctx context.Context, videoURL string, settings models.Settings, clientID string) (*models.Run, *models.Result, error) {
	j := r.newJob(ctx, videoURL, settings, clientID)
	defer j.cancelFunc()

	if err := r.repo.Save(ctx, j.run); err != nil {
		return nil, nil, err
	}

	r.mu.Lock()
	r.activeJobs[j.run.ID] = j
	r.mu.Unlock()

	r.process(j)
	return j.run, j.result, j.err
}

func (r *Runner) Get(ctx context.Context, id string) (*models.Run, error) {
	return r.repo.Find(ctx, id)
}

func (r *Runner) List(ctx context.Context, limit int) ([]*models.Run, error) {
	return r.repo.List(ctx, limit)
}

// Cancel stops an active run. It reports false when the run is not active.
func (r *Runner) Cancel(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	j, exists := r.activeJobs[id]
	if !exists {
		return false
	}
	j.cancelFunc()
	return true
}

func (r *Runner) Active() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.activeJobs)
}

func (r *Runner) worker(id int) {
	defer r.wg.Done()

	logger := r.logger.WithField("worker_id", id)
	logger.Info("Starting worker")

	for {
		select {
		case <-r.quit:
			logger.Info("Worker shutting down")
			return
		case j := <-r.jobs:
			r.process(j)
			j.cancelFunc()
		}
	}
}

func (r *Runner) process(j *job) {
	run := j.run
	logger := r.logger.WithFields(logrus.Fields{
		"run_id": run.ID,
		"url":    run.URL,
	})
	defer func() {
		r.mu.Lock()
		delete(r.activeJobs, run.ID)
		r.mu.Unlock()
	}()

	if err := j.ctx.Err(); err != nil {
		j.err = err
		r.applyOutcome(run, nil, err)
		r.persist(logger, run)
		return
	}

	run.Status = models.StatusProcessing
	r.persist(logger, run)
	logger.Info("Started processing run")

	onProgress := func(event models.ProgressEvent) {
		event.RunID = run.ID
		event.ClientID = j.clientID
		mergeArtifacts(&run.Artifacts, event.Partial)

		stepChanged := event.Step != run.Step
		run.Step = event.Step
		r.publish(logger, event)
		if stepChanged {
			r.persist(logger, run)
		}
	}

	result, err := r.svc.Process(j.ctx, run.URL, run.Settings, onProgress)
	j.result, j.err = result, err
	r.applyOutcome(run, result, err)
	if result != nil {
		result.RunID = run.ID
	}
	r.persist(logger, run)

	duration := time.Since(j.startTime)
	if err != nil {
		logger.WithError(err).WithFields(logrus.Fields{
			"step":        run.Step,
			"duration_ms": duration.Milliseconds(),
		}).Error("Run failed")
		return
	}

	r.publish(logger, models.ProgressEvent{
		RunID:         run.ID,
		ClientID:      j.clientID,
		Step:          5,
		EstimatedTime: "Hoàn thành!",
		Partial:       &models.Artifacts{FinalResult: result.Text},
		Timestamp:     time.Now(),
	})

	logger.WithFields(logrus.Fields{
		"status":      run.Status,
		"duration_ms": duration.Milliseconds(),
	}).Info("Run finished")

	if r.archive != nil {
		ctx, cancel := context.WithTimeout(context.Background(), saveTimeout)
		defer cancel()
		if err := r.archive.SaveResult(ctx, run); err != nil {
			logger.WithError(err).Warn("Failed to archive run")
		}
	}
}

// applyOutcome copies a finished Process call onto the run record.
func (r *Runner) applyOutcome(run *models.Run, result *models.Result, err error) {
	if err == nil && result != nil {
		run.Status = result.Status
		run.Step = result.Step
		run.Artifacts = result.Artifacts
		run.Error = result.Error
		if result.TranscriptOnly || result.Partial {
			run.Title = TranscriptOnlyTitle
		}
		return
	}

	run.Status = models.StatusFailed
	run.Error = err.Error()

	var pe *errors.PipelineError
	if stderrors.As(err, &pe) {
		run.Step = pe.Step
		if artifacts, ok := pe.Artifacts.(models.Artifacts); ok {
			run.Artifacts = artifacts
		}
	}
	switch {
	case stderrors.Is(err, context.Canceled):
		run.Error = "Run cancelled"
	case stderrors.Is(err, context.DeadlineExceeded):
		run.Error = "Run timed out"
	}
}

// persist saves with its own deadline so a cancelled run is still recorded.
func (r *Runner) persist(logger *logrus.Entry, run *models.Run) {
	ctx, cancel := context.WithTimeout(context.Background(), saveTimeout)
	defer cancel()
	if err := r.repo.Save(ctx, run); err != nil {
		logger.WithError(err).Warn("Failed to save run")
	}
}

func (r *Runner) publish(logger *logrus.Entry, event models.ProgressEvent) {
	ctx, cancel := context.WithTimeout(context.Background(), saveTimeout)
	defer cancel()
	if err := r.publisher.Publish(ctx, event); err != nil {
		logger.WithError(err).Debug("Failed to publish progress")
	}
}

func (r *Runner) abandon(j *job, reason string) {
	j.run.Status = models.StatusFailed
	j.run.Error = reason
	r.persist(r.logger.WithField("run_id", j.run.ID), j.run)
}

// FailStale marks runs stuck in processing for longer than timeout as
// failed. Runs still owned by this runner are left alone.
func (r *Runner) FailStale(ctx context.Context, timeout time.Duration) (int, error) {
	const op = "Runner.FailStale"

	stale, err := r.repo.FindStale(ctx, time.Now().Add(-timeout))
	if err != nil {
		return 0, err
	}

	failed := 0
	for _, run := range stale {
		r.mu.Lock()
		_, active := r.activeJobs[run.ID]
		r.mu.Unlock()
		if active {
			continue
		}

		run.Status = models.StatusFailed
		run.Error = "Run timed out"
		if err := r.repo.Save(ctx, run); err != nil {
			r.logger.WithField("op", op).WithField("run_id", run.ID).WithError(err).Warn("Failed to mark stale run")
			continue
		}
		failed++
	}

	if failed > 0 {
		r.logger.WithFields(logrus.Fields{
			"op":     op,
			"failed": failed,
		}).Warn("Marked stale runs as failed")
	}
	return failed, nil
}

// Close stops the workers, cancels every active run and fails runs that
// never left the queue.
func (r *Runner) Close() {
	r.closeOnce.Do(func() {
		r.mu.Lock()
		close(r.quit)
		for _, j := range r.activeJobs {
			j.cancelFunc()
		}
		r.mu.Unlock()

		r.wg.Wait()

		for {
			select {
			case j := <-r.jobs:
				r.mu.Lock()
				delete(r.activeJobs, j.run.ID)
				r.mu.Unlock()
				r.abandon(j, "Server is shutting down")
			default:
				return
			}
		}
	})
}

func (r *Runner) monitorHungJobs() {
	defer r.wg.Done()

	ticker := time.NewTicker(r.config.MonitorInterval)
	defer ticker.Stop()

	for {
		select {
		case <-r.quit:
			return
		case <-ticker.C:
			r.checkHungJobs()
		}
	}
}

// checkHungJobs only logs; the run timeout is what stops a run.
func (r *Runner) checkHungJobs() {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now()
	for id, j := range r.activeJobs {
		if now.Sub(j.startTime) > r.config.HungTimeout {
			r.logger.WithFields(logrus.Fields{
				"run_id":   id,
				"duration": now.Sub(j.startTime).String(),
			}).Warn("Found hung run")
		}
	}
}

func mergeArtifacts(dst *models.Artifacts, src *models.Artifacts) {
	if src == nil {
		return
	}
	if src.Duration != "" {
		dst.Duration = src.Duration
	}
	if len(src.Segments) > 0 {
		dst.Segments = src.Segments
	}
	if len(src.Transcripts) > 0 {
		dst.Transcripts = src.Transcripts
	}
	if src.Aggregated != "" {
		dst.Aggregated = src.Aggregated
	}
	if src.FinalResult != "" {
		dst.FinalResult = src.FinalResult
	}
	if src.Error != "" {
		dst.Error = src.Error
	}
	dst.TranscriptOnly = dst.TranscriptOnly || src.TranscriptOnly
	dst.Partial = dst.Partial || src.Partial
}
