package pipeline

import (
	"context"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/nijaru/yt-script/errors"
	"github.com/nijaru/yt-script/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memoryRepo struct {
	mu   sync.Mutex
	runs map[string]models.Run
	// stale is returned verbatim by FindStale.
	stale []*models.Run
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{runs: make(map[string]models.Run)}
}

func (m *memoryRepo) Save(ctx context.Context, run *models.Run) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if run.CreatedAt.IsZero() {
		run.CreatedAt = time.Now()
	}
	run.UpdatedAt = time.Now()
	m.runs[run.ID] = *run
	return nil
}

func (m *memoryRepo) Find(ctx context.Context, id string) (*models.Run, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	run, ok := m.runs[id]
	if !ok {
		return nil, errors.NotFound("memoryRepo.Find", nil, "Run not found")
	}
	return &run, nil
}

func (m *memoryRepo) FindByURL(ctx context.Context, url string) (*models.Run, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, run := range m.runs {
		if run.URL == url {
			r := run
			return &r, nil
		}
	}
	return nil, errors.NotFound("memoryRepo.FindByURL", nil, "Run not found")
}

func (m *memoryRepo) List(ctx context.Context, limit int) ([]*models.Run, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var runs []*models.Run
	for _, run := range m.runs {
		r := run
		runs = append(runs, &r)
	}
	sort.Slice(runs, func(i, j int) bool { return runs[i].CreatedAt.After(runs[j].CreatedAt) })
	if limit > 0 && len(runs) > limit {
		runs = runs[:limit]
	}
	return runs, nil
}

func (m *memoryRepo) FindStale(ctx context.Context, before time.Time) ([]*models.Run, error) {
	return m.stale, nil
}

func (m *memoryRepo) status(id string) models.Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.runs[id].Status
}

type fakeService struct {
	ProcessFunc func(ctx context.Context, onProgress models.ProgressFunc) (*models.Result, error)
}

func (f *fakeService) Process(ctx context.Context, videoURL string, settings models.Settings, onProgress models.ProgressFunc) (*models.Result, error) {
	return f.ProcessFunc(ctx, onProgress)
}

func (f *fakeService) GenerateScriptOnly(ctx context.Context, transcript string, settings models.Settings) (*models.Result, error) {
	return nil, nil
}

func (f *fakeService) Chat(ctx context.Context, req models.ChatRequest) (*models.ChatResponse, error) {
	return nil, nil
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []models.ProgressEvent
}

func (p *recordingPublisher) Publish(ctx context.Context, e models.ProgressEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, e)
	return nil
}

type recordingArchive struct {
	mu   sync.Mutex
	runs []string
}

func (a *recordingArchive) SaveResult(ctx context.Context, run *models.Run) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.runs = append(a.runs, run.ID)
	return nil
}

func completedResult(onProgress models.ProgressFunc) *models.Result {
	onProgress(models.ProgressEvent{Step: 1, Partial: &models.Artifacts{Duration: "00:04:00"}})
	onProgress(models.ProgressEvent{Step: 5, Partial: &models.Artifacts{FinalResult: "script"}})
	return &models.Result{
		Text:   "script",
		Status: models.StatusCompleted,
		Step:   5,
		Artifacts: models.Artifacts{
			Duration:    "00:04:00",
			FinalResult: "script",
		},
	}
}

func testRunnerConfig() RunnerConfig {
	return RunnerConfig{Workers: 1, QueueSize: 4, RunTimeout: time.Minute}
}

func TestExecuteCompletes(t *testing.T) {
	repo := newMemoryRepo()
	pub := &recordingPublisher{}
	archive := &recordingArchive{}
	svc := &fakeService{ProcessFunc: func(ctx context.Context, onProgress models.ProgressFunc) (*models.Result, error) {
		return completedResult(onProgress), nil
	}}

	runner := NewRunner(svc, repo, archive, pub, testRunnerConfig())
	run, result, err := runner.Execute(context.Background(), "https://youtu.be/dQw4w9WgXcQ", models.DefaultSettings(), "client-1")
	require.NoError(t, err)

	assert.Equal(t, models.StatusCompleted, run.Status)
	assert.Equal(t, "Video dQw4w9Wg...", run.Title)
	assert.Equal(t, run.ID, result.RunID)
	assert.Equal(t, models.StatusCompleted, repo.status(run.ID))
	assert.Equal(t, []string{run.ID}, archive.runs)
	assert.Equal(t, 0, runner.Active())

	require.Len(t, pub.events, 3)
	for _, e := range pub.events {
		assert.Equal(t, run.ID, e.RunID)
		assert.Equal(t, "client-1", e.ClientID)
	}
	final := pub.events[2]
	assert.Equal(t, 5, final.Step)
	assert.Equal(t, "Hoàn thành!", final.EstimatedTime)
	assert.Equal(t, "script", final.Partial.FinalResult)
}

func TestExecuteTranscriptOnlyTitle(t *testing.T) {
	svc := &fakeService{ProcessFunc: func(ctx context.Context, onProgress models.ProgressFunc) (*models.Result, error) {
		return &models.Result{Text: "t", Status: models.StatusTranscriptOnly, Step: 5, TranscriptOnly: true}, nil
	}}

	run, _, err := NewRunner(svc, newMemoryRepo(), nil, nil, testRunnerConfig()).
		Execute(context.Background(), "https://youtu.be/dQw4w9WgXcQ", models.DefaultSettings(), "")
	require.NoError(t, err)
	assert.Equal(t, TranscriptOnlyTitle, run.Title)
	assert.Equal(t, models.StatusTranscriptOnly, run.Status)
}

func TestExecuteHardFailure(t *testing.T) {
	repo := newMemoryRepo()
	archive := &recordingArchive{}
	svc := &fakeService{ProcessFunc: func(ctx context.Context, onProgress models.ProgressFunc) (*models.Result, error) {
		onProgress(models.ProgressEvent{Step: 1})
		onProgress(models.ProgressEvent{Step: 2, Partial: &models.Artifacts{Segments: []models.TimeSegment{{Start: "00:00:00", End: "00:05:00"}}}})
		return nil, &errors.PipelineError{
			Step:      3,
			Artifacts: models.Artifacts{Duration: "00:05:00"},
			Err:       errors.Upstream("fake", errors.KindTimeout, 0, "request timed out", nil),
		}
	}}

	run, result, err := NewRunner(svc, repo, archive, nil, testRunnerConfig()).
		Execute(context.Background(), "https://youtu.be/dQw4w9WgXcQ", models.DefaultSettings(), "")
	require.Error(t, err)
	assert.Nil(t, result)
	assert.Equal(t, models.StatusFailed, run.Status)
	assert.Equal(t, 3, run.Step)
	assert.Equal(t, "00:05:00", run.Artifacts.Duration)
	assert.Equal(t, "Video processing failed at step 3: request timed out", run.Error)
	assert.Equal(t, models.StatusFailed, repo.status(run.ID))
	assert.Empty(t, archive.runs)
}

func TestSubmitRunsInBackground(t *testing.T) {
	repo := newMemoryRepo()
	svc := &fakeService{ProcessFunc: func(ctx context.Context, onProgress models.ProgressFunc) (*models.Result, error) {
		return completedResult(onProgress), nil
	}}

	runner := NewRunner(svc, repo, nil, nil, testRunnerConfig())
	runner.Start()
	defer runner.Close()

	run, err := runner.Submit(context.Background(), "https://youtu.be/dQw4w9WgXcQ", models.DefaultSettings(), "")
	require.NoError(t, err)
	assert.Equal(t, models.StatusQueued, run.Status)

	require.Eventually(t, func() bool {
		return repo.status(run.ID) == models.StatusCompleted
	}, 2*time.Second, 10*time.Millisecond)

	got, err := runner.Get(context.Background(), run.ID)
	require.NoError(t, err)
	assert.Equal(t, "script", got.Artifacts.FinalResult)

	runs, err := runner.List(context.Background(), 10)
	require.NoError(t, err)
	assert.Len(t, runs, 1)
}

func TestSubmitQueueFull(t *testing.T) {
	repo := newMemoryRepo()
	svc := &fakeService{ProcessFunc: func(ctx context.Context, onProgress models.ProgressFunc) (*models.Result, error) {
		return completedResult(onProgress), nil
	}}

	runner := NewRunner(svc, repo, nil, nil, RunnerConfig{Workers: 1, QueueSize: 1})
	defer runner.Close()

	_, err := runner.Submit(context.Background(), "https://youtu.be/a", models.DefaultSettings(), "")
	require.NoError(t, err)

	_, err = runner.Submit(context.Background(), "https://youtu.be/b", models.DefaultSettings(), "")
	assert.Equal(t, errors.KindQueueFull, errors.KindOf(err))

	rejected, err := repo.FindByURL(context.Background(), "https://youtu.be/b")
	require.NoError(t, err)
	assert.Equal(t, models.StatusFailed, rejected.Status)
	assert.Equal(t, "Run queue is full", rejected.Error)
}

func TestCancelActiveRun(t *testing.T) {
	repo := newMemoryRepo()
	started := make(chan struct{})
	svc := &fakeService{ProcessFunc: func(ctx context.Context, onProgress models.ProgressFunc) (*models.Result, error) {
		close(started)
		<-ctx.Done()
		return nil, &errors.PipelineError{Step: 1, Artifacts: models.Artifacts{}, Err: ctx.Err()}
	}}

	runner := NewRunner(svc, repo, nil, nil, testRunnerConfig())
	runner.Start()
	defer runner.Close()

	run, err := runner.Submit(context.Background(), "https://youtu.be/dQw4w9WgXcQ", models.DefaultSettings(), "")
	require.NoError(t, err)

	<-started
	assert.True(t, runner.Cancel(run.ID))
	assert.False(t, runner.Cancel("unknown"))

	require.Eventually(t, func() bool {
		return repo.status(run.ID) == models.StatusFailed
	}, 2*time.Second, 10*time.Millisecond)

	got, err := repo.Find(context.Background(), run.ID)
	require.NoError(t, err)
	assert.Equal(t, "Run cancelled", got.Error)
}

func TestCloseFailsQueuedRuns(t *testing.T) {
	repo := newMemoryRepo()
	runner := NewRunner(&fakeService{}, repo, nil, nil, testRunnerConfig())

	run, err := runner.Submit(context.Background(), "https://youtu.be/dQw4w9WgXcQ", models.DefaultSettings(), "")
	require.NoError(t, err)

	runner.Close()
	assert.Equal(t, models.StatusFailed, repo.status(run.ID))
	assert.Equal(t, 0, runner.Active())

	_, err = runner.Submit(context.Background(), "https://youtu.be/other", models.DefaultSettings(), "")
	assert.Equal(t, errors.KindConfiguration, errors.KindOf(err))
}

func TestFailStaleSkipsActiveRuns(t *testing.T) {
	repo := newMemoryRepo()
	runner := NewRunner(&fakeService{}, repo, nil, nil, testRunnerConfig())

	runner.activeJobs["live"] = &job{cancelFunc: func() {}}
	repo.stale = []*models.Run{
		{ID: "orphan", URL: "u1", Status: models.StatusProcessing},
		{ID: "live", URL: "u2", Status: models.StatusProcessing},
	}

	failed, err := runner.FailStale(context.Background(), time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 1, failed)
	assert.Equal(t, models.StatusFailed, repo.status("orphan"))

	_, err = repo.Find(context.Background(), "live")
	assert.True(t, errors.IsNotFound(err))
}

func TestMergeArtifacts(t *testing.T) {
	dst := models.Artifacts{Duration: "00:10:00", Transcripts: []string{"a"}}
	mergeArtifacts(&dst, &models.Artifacts{Transcripts: []string{"a", "b"}, Partial: true})
	mergeArtifacts(&dst, nil)

	assert.Equal(t, "00:10:00", dst.Duration)
	assert.Equal(t, []string{"a", "b"}, dst.Transcripts)
	assert.True(t, dst.Partial)
}
