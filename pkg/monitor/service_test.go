package monitor

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/open-meetsum/meetsum/pkg/config"
	"github.com/open-meetsum/meetsum/pkg/models"
)

type fakeMeetings struct {
	meetings []models.Meeting
}

func (f *fakeMeetings) ListActive(ctx context.Context) ([]models.Meeting, error) {
	return f.meetings, nil
}

type fakeSegments struct {
	tokens map[string]int
}

func (f *fakeSegments) GetUnsummarizedTokens(ctx context.Context, meetingID string) (int, error) {
	return f.tokens[meetingID], nil
}

type fakeJobs struct {
	mu      sync.Mutex
	active  map[string]bool
	created []string
}

func (f *fakeJobs) HasActive(ctx context.Context, meetingID string, jobType models.JobType) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.active[meetingID], nil
}

func (f *fakeJobs) Create(ctx context.Context, meetingID string, jobType models.JobType, payload map[string]any) (*models.Job, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.created = append(f.created, meetingID)
	f.active[meetingID] = true
	return &models.Job{ID: "job-" + meetingID, MeetingID: meetingID, Type: jobType}, nil
}

func (f *fakeJobs) createdJobs() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.created...)
}

func testConfig() config.PipelineConfig {
	return config.PipelineConfig{
		BatchTokens:  100,
		BatchTimeout: 10 * time.Millisecond,
	}
}

func TestSweep_EnqueuesOnlyOverThreshold(t *testing.T) {
	meetings := &fakeMeetings{meetings: []models.Meeting{{ID: "m-hot"}, {ID: "m-cold"}}}
	segments := &fakeSegments{tokens: map[string]int{"m-hot": 150, "m-cold": 40}}
	jobs := &fakeJobs{active: map[string]bool{}}

	s := NewService(testConfig(), meetings, segments, jobs)
	s.sweep(context.Background())

	assert.Equal(t, []string{"m-hot"}, jobs.createdJobs())
}

func TestSweep_ExactThresholdTriggers(t *testing.T) {
	meetings := &fakeMeetings{meetings: []models.Meeting{{ID: "m1"}}}
	segments := &fakeSegments{tokens: map[string]int{"m1": 100}}
	jobs := &fakeJobs{active: map[string]bool{}}

	s := NewService(testConfig(), meetings, segments, jobs)
	s.sweep(context.Background())

	assert.Equal(t, []string{"m1"}, jobs.createdJobs())
}

func TestSweep_SkipsMeetingsWithActiveJob(t *testing.T) {
	meetings := &fakeMeetings{meetings: []models.Meeting{{ID: "m1"}}}
	segments := &fakeSegments{tokens: map[string]int{"m1": 500}}
	jobs := &fakeJobs{active: map[string]bool{"m1": true}}

	s := NewService(testConfig(), meetings, segments, jobs)
	s.sweep(context.Background())

	assert.Empty(t, jobs.createdJobs())
}

func TestStartStop_SweepsPeriodically(t *testing.T) {
	meetings := &fakeMeetings{meetings: []models.Meeting{{ID: "m1"}}}
	segments := &fakeSegments{tokens: map[string]int{"m1": 500}}
	jobs := &fakeJobs{active: map[string]bool{}}

	s := NewService(testConfig(), meetings, segments, jobs)
	s.Start(context.Background())
	defer s.Stop()

	require.Eventually(t, func() bool {
		return len(jobs.createdJobs()) == 1
	}, time.Second, 5*time.Millisecond)

	// The active-job guard keeps subsequent sweeps from stacking more.
	time.Sleep(50 * time.Millisecond)
	assert.Len(t, jobs.createdJobs(), 1)
}

func TestStartStop_Idempotent(t *testing.T) {
	s := NewService(testConfig(), &fakeMeetings{}, &fakeSegments{tokens: map[string]int{}}, &fakeJobs{active: map[string]bool{}})

	s.Start(context.Background())
	s.Start(context.Background()) // no-op
	s.Stop()
	s.Stop() // no-op after first Stop

	// Stop on a never-started service is also a no-op.
	fresh := NewService(testConfig(), &fakeMeetings{}, &fakeSegments{tokens: map[string]int{}}, &fakeJobs{active: map[string]bool{}})
	fresh.Stop()
}
