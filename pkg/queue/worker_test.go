package queue

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/open-meetsum/meetsum/pkg/config"
)

func TestBackoffDelay_GrowsExponentially(t *testing.T) {
	first := backoffDelay(2, 1)
	second := backoffDelay(2, 2)
	third := backoffDelay(2, 3)

	assert.Equal(t, 2*time.Second, first)
	assert.Equal(t, 4*time.Second, second)
	assert.Equal(t, 8*time.Second, third)
}

func TestBackoffDelay_HonorsBase(t *testing.T) {
	assert.Equal(t, 9*time.Second, backoffDelay(3, 2))
}

func TestPollInterval_JitterBounds(t *testing.T) {
	w := &Worker{config: config.QueueConfig{
		PollInterval:       time.Second,
		PollIntervalJitter: 200 * time.Millisecond,
	}}

	for i := 0; i < 100; i++ {
		d := w.pollInterval()
		assert.GreaterOrEqual(t, d, 800*time.Millisecond)
		assert.LessOrEqual(t, d, 1200*time.Millisecond)
	}
}

func TestPollInterval_NoJitter(t *testing.T) {
	w := &Worker{config: config.QueueConfig{PollInterval: time.Second}}
	assert.Equal(t, time.Second, w.pollInterval())
}

func TestWorkerStop_Idempotent(t *testing.T) {
	w := newWorker("w-0", nil, config.QueueConfig{}, config.PipelineConfig{}, nil)
	w.stop()
	w.stop() // must not panic on double close
}
