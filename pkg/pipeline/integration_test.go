package pipeline

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/open-meetsum/meetsum/pkg/apperr"
	"github.com/open-meetsum/meetsum/pkg/chunker"
	"github.com/open-meetsum/meetsum/pkg/config"
	"github.com/open-meetsum/meetsum/pkg/database"
	"github.com/open-meetsum/meetsum/pkg/events"
	"github.com/open-meetsum/meetsum/pkg/merger"
	"github.com/open-meetsum/meetsum/pkg/models"
	"github.com/open-meetsum/meetsum/pkg/queue"
	"github.com/open-meetsum/meetsum/pkg/store"
)

// validChunkJSON is what a cooperative model returns for a chunk prompt.
const validChunkJSON = `{
	"summary": "The team reviewed the quarterly budget.",
	"agenda": ["Budget"],
	"decisions": [{"text": "Approve the Q4 budget", "confidence": 0.9}],
	"action_items": [{"text": "Send the revised deck to the board", "confidence": 0.8}],
	"topics": [{"name": "Finance", "confidence": 0.7}]
}`

const validAnnotationJSON = `{"owner": "Priya", "due_date_iso": "2025-06-20"}`

// stubLLM scripts the inference backend per call, keyed off prompt shape
// so chunk and annotation prompts can answer differently.
type stubLLM struct {
	mu         sync.Mutex
	chunkCalls int
	onChunk    func(call int) (string, error)
}

func (s *stubLLM) Complete(ctx context.Context, prompt string, maxTokens int, temperature float64, stop []string) (string, error) {
	if strings.Contains(prompt, "owner and due date") {
		return validAnnotationJSON, nil
	}
	s.mu.Lock()
	s.chunkCalls++
	call := s.chunkCalls
	s.mu.Unlock()
	if s.onChunk != nil {
		return s.onChunk(call)
	}
	return validChunkJSON, nil
}

type testEnv struct {
	db        *database.Client
	meetings  *store.MeetingRepository
	segments  *store.SegmentRepository
	summaries *store.SummaryRepository
	jobs      *store.JobRepository
	service   *Service
	pool      *queue.WorkerPool
}

func pipelineTestConfig(batchTokens int) config.PipelineConfig {
	return config.PipelineConfig{
		ChunkSize:      200,
		OverlapRatio:   0.15,
		BatchTokens:    batchTokens,
		BatchTimeout:   45 * time.Second,
		MaxRetries:     3,
		BackoffBase:    2,
		CharsPerToken:  4,
		MaxInputLength: 100000,
	}
}

// newTestEnv starts a disposable Postgres and wires the full pipeline over
// it with llm standing in for the inference backend. The worker pool is
// constructed but not started; tests that need job execution call startPool.
func newTestEnv(t *testing.T, batchTokens int, llm CompletionClient) *testEnv {
	ctx := context.Background()

	pgContainer, err := postgres.Run(ctx,
		"postgres:16-alpine",
		postgres.WithDatabase("meetsum_test"),
		postgres.WithUsername("test"),
		postgres.WithPassword("test"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second)),
	)
	require.NoError(t, err)
	t.Cleanup(func() {
		if err := testcontainers.TerminateContainer(pgContainer); err != nil {
			t.Logf("failed to terminate container: %v", err)
		}
	})

	connStr, err := pgContainer.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	client, err := database.NewClientFromDSN(ctx, connStr)
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	pcfg := pipelineTestConfig(batchTokens)
	db := client.DB()
	meetings := store.NewMeetingRepository(db)
	segments := store.NewSegmentRepository(db)
	summaries := store.NewSummaryRepository(db)
	jobs := store.NewJobRepository(db)
	publisher := events.NewPublisher()

	chk, err := chunker.New(pcfg.ChunkSize, pcfg.OverlapRatio, pcfg.CharsPerToken)
	require.NoError(t, err)
	mrg := merger.New(0)

	service := NewService(db, meetings, segments, summaries, jobs, publisher, pcfg, t.TempDir())
	dispatcher := NewDispatcher(db, segments, summaries, jobs, publisher, chk, mrg, llm, nil, pcfg)

	qcfg := config.QueueConfig{
		WorkerCount:             1,
		PollInterval:            25 * time.Millisecond,
		JobTimeout:              30 * time.Second,
		GracefulShutdownTimeout: 5 * time.Second,
	}
	pool := queue.NewWorkerPool("test", jobs, qcfg, pcfg, dispatcher)

	return &testEnv{
		db:        client,
		meetings:  meetings,
		segments:  segments,
		summaries: summaries,
		jobs:      jobs,
		service:   service,
		pool:      pool,
	}
}

func (e *testEnv) startPool(t *testing.T, ctx context.Context) {
	e.pool.Start(ctx)
	t.Cleanup(e.pool.Stop)
}

func (e *testEnv) appendSegments(t *testing.T, meetingID string, texts ...string) {
	base := time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)
	for i, text := range texts {
		_, err := e.service.AppendSegment(context.Background(), meetingID,
			fmt.Sprintf("speaker-%d", i%3),
			base.Add(time.Duration(i)*time.Minute).Format(time.RFC3339),
			text)
		require.NoError(t, err)
	}
}

// Small meeting, single chunk: three short segments below the batch
// threshold still produce an annotated final summary after finalize.
func TestPipeline_SmallMeetingEndToEnd(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, 2000, &stubLLM{})

	meeting, err := env.service.CreateMeeting(ctx, "M1", nil)
	require.NoError(t, err)
	env.appendSegments(t, meeting.ID,
		"Alice: we need to settle the Q4 budget today",
		"Bob: finance sent revised numbers yesterday evening",
		"Charlie: then let's approve them and move on to hiring")

	status, err := env.service.Finalize(ctx, meeting.ID)
	require.NoError(t, err)
	assert.Equal(t, "finalized", status)

	env.startPool(t, ctx)

	require.Eventually(t, func() bool {
		latest, err := env.summaries.GetLatest(ctx, meeting.ID, models.SummaryTypeFinal)
		if err != nil {
			return false
		}
		if len(latest.Content.ActionItems) == 0 {
			return false
		}
		return latest.Content.ActionItems[0].Owner != nil
	}, 30*time.Second, 50*time.Millisecond, "expected an annotated final summary")

	latest, err := env.summaries.GetLatest(ctx, meeting.ID, models.SummaryTypeFinal)
	require.NoError(t, err)
	assert.NotEmpty(t, latest.Content.Summary)
	require.NotEmpty(t, latest.Content.ActionItems)
	assert.Equal(t, "Priya", *latest.Content.ActionItems[0].Owner)
	assert.Equal(t, "2025-06-20", *latest.Content.ActionItems[0].DueDateISO)
	assert.NotEmpty(t, latest.Content.Decisions)
	assert.NotEmpty(t, latest.Content.Decisions[0].SourceSegmentIDs)

	// Compose appended one final, annotate appended a second.
	count, err := env.summaries.CountFinal(ctx, meeting.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, count)
}

// Batch trigger: no CHUNK_SUMMARY job until the cumulative estimated
// token count reaches the threshold, then exactly one.
func TestPipeline_BatchThresholdTrigger(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, 100, &stubLLM{})

	meeting, err := env.service.CreateMeeting(ctx, "Batchy", nil)
	require.NoError(t, err)

	// 100 chars at 4 chars/token = 25 tokens per segment.
	segText := strings.Repeat("meeting talk ", 7) + "overflow!"
	require.Len(t, segText, 100)

	base := time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)
	for i := 0; i < 3; i++ {
		_, err := env.service.AppendSegment(ctx, meeting.ID, "Alice", base.Add(time.Duration(i)*time.Minute).Format(time.RFC3339), segText)
		require.NoError(t, err)

		active, err := env.jobs.HasActive(ctx, meeting.ID, models.JobTypeChunkSummary)
		require.NoError(t, err)
		assert.False(t, active, "no job may be enqueued below the threshold (append %d)", i+1)
	}

	_, err = env.service.AppendSegment(ctx, meeting.ID, "Alice", base.Add(4*time.Minute).Format(time.RFC3339), segText)
	require.NoError(t, err)

	active, err := env.jobs.HasActive(ctx, meeting.ID, models.JobTypeChunkSummary)
	require.NoError(t, err)
	assert.True(t, active, "the fourth append crosses the threshold and must enqueue")

	_, total, err := env.jobs.List(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, 1, total)
}

// Retry then success: two transient inference failures, then valid JSON.
// The job must end completed on its third claim cycle.
func TestPipeline_TransientFailureRetriesThenSucceeds(t *testing.T) {
	ctx := context.Background()
	llm := &stubLLM{onChunk: func(call int) (string, error) {
		if call <= 2 {
			return "", apperr.WrapTransient(fmt.Errorf("inference server returned 502"))
		}
		return validChunkJSON, nil
	}}
	env := newTestEnv(t, 2000, llm)

	meeting, err := env.service.CreateMeeting(ctx, "Flaky", nil)
	require.NoError(t, err)
	env.appendSegments(t, meeting.ID, "a short discussion about deadlines")

	job, err := env.jobs.Create(ctx, meeting.ID, models.JobTypeChunkSummary, nil)
	require.NoError(t, err)

	env.startPool(t, ctx)

	require.Eventually(t, func() bool {
		got, err := env.jobs.GetByID(ctx, job.ID)
		return err == nil && got.Status == models.JobStatusCompleted
	}, 30*time.Second, 50*time.Millisecond, "job should complete after retries")

	got, err := env.jobs.GetByID(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, got.Attempts)

	incrementals, err := env.summaries.GetAllIncremental(ctx, meeting.ID)
	require.NoError(t, err)
	assert.NotEmpty(t, incrementals)
}

// Malformed LLM output: the job completes with no summary produced and no
// retry loop, and a later finalize still yields an empty but valid final.
func TestPipeline_MalformedLLMOutputCompletesWithoutSummary(t *testing.T) {
	ctx := context.Background()
	llm := &stubLLM{onChunk: func(call int) (string, error) {
		return "not json", nil
	}}
	env := newTestEnv(t, 2000, llm)

	meeting, err := env.service.CreateMeeting(ctx, "Garbled", nil)
	require.NoError(t, err)
	env.appendSegments(t, meeting.ID, "some discussion the model will mangle")

	job, err := env.jobs.Create(ctx, meeting.ID, models.JobTypeChunkSummary, nil)
	require.NoError(t, err)

	env.startPool(t, ctx)

	require.Eventually(t, func() bool {
		got, err := env.jobs.GetByID(ctx, job.ID)
		return err == nil && got.Status == models.JobStatusCompleted
	}, 30*time.Second, 50*time.Millisecond)

	got, err := env.jobs.GetByID(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, got.Attempts, "malformed output must not burn retries")
	assert.Contains(t, got.LastError, "parse chunk summary")

	incrementals, err := env.summaries.GetAllIncremental(ctx, meeting.ID)
	require.NoError(t, err)
	assert.Empty(t, incrementals, "no incremental summary may be created from garbage")

	// Downstream compose still produces an empty but valid final.
	_, err = env.service.Finalize(ctx, meeting.ID)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		latest, err := env.summaries.GetLatest(ctx, meeting.ID, models.SummaryTypeFinal)
		return err == nil && latest != nil
	}, 30*time.Second, 50*time.Millisecond)

	latest, err := env.summaries.GetLatest(ctx, meeting.ID, models.SummaryTypeFinal)
	require.NoError(t, err)
	assert.Empty(t, latest.Content.Summary)
	assert.Empty(t, latest.Content.Decisions)
	assert.Empty(t, latest.Content.ActionItems)
}

// Finalize idempotence: the second call reports already_finalized and no
// duplicate compose/annotate jobs are enqueued.
func TestPipeline_FinalizeIdempotent(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, 2000, &stubLLM{})

	meeting, err := env.service.CreateMeeting(ctx, "Once", nil)
	require.NoError(t, err)
	env.appendSegments(t, meeting.ID, "quick chat before the demo")

	status, err := env.service.Finalize(ctx, meeting.ID)
	require.NoError(t, err)
	assert.Equal(t, "finalized", status)

	status, err = env.service.Finalize(ctx, meeting.ID)
	require.NoError(t, err)
	assert.Equal(t, "already_finalized", status)

	jobs, total, err := env.jobs.List(ctx, 20)
	require.NoError(t, err)
	assert.Equal(t, 3, total, "chunk + compose + annotate, no duplicates")

	byType := map[models.JobType]int{}
	for _, j := range jobs {
		byType[j.Type]++
	}
	assert.Equal(t, 1, byType[models.JobTypeComposeSummary])
	assert.Equal(t, 1, byType[models.JobTypeAnnotateActionItems])
	assert.Equal(t, 1, byType[models.JobTypeChunkSummary])
}

// Finalize immutability: once finalized, segment appends are conflicts.
func TestPipeline_AppendAfterFinalizeConflicts(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, 2000, &stubLLM{})

	meeting, err := env.service.CreateMeeting(ctx, "Sealed", nil)
	require.NoError(t, err)
	env.appendSegments(t, meeting.ID, "the only segment")

	_, err = env.service.Finalize(ctx, meeting.ID)
	require.NoError(t, err)

	_, err = env.service.AppendSegment(ctx, meeting.ID, "Alice", time.Now().UTC().Format(time.RFC3339), "too late")
	assert.ErrorIs(t, err, apperr.ErrConflict)
}

func TestPipeline_AppendValidation(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, 2000, &stubLLM{})

	meeting, err := env.service.CreateMeeting(ctx, "Validation", nil)
	require.NoError(t, err)

	_, err = env.service.AppendSegment(ctx, meeting.ID, "Alice", "yesterday at nine", "hello")
	assert.ErrorIs(t, err, apperr.ErrValidation)

	_, err = env.service.AppendSegment(ctx, "no-such-meeting", "Alice", time.Now().UTC().Format(time.RFC3339), "hello")
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}
