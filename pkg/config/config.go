// Package config aggregates the application's per-concern configuration
// structs, each loadable from environment variables with production
// defaults, following the LoadXFromEnv/Validate pattern used throughout
// this codebase (see pkg/database/config.go).
package config

import (
	"fmt"
	"os"
	"runtime"
	"strconv"
	"time"

	"github.com/open-meetsum/meetsum/pkg/database"
)

// Config is the fully loaded application configuration.
type Config struct {
	Pipeline  PipelineConfig
	Database  database.Config
	Inference InferenceConfig
	Server    ServerConfig
	Retention RetentionConfig
	Queue     QueueConfig
}

// Load assembles Config from environment variables, validating each
// section and failing fast on the first invalid one.
func Load() (*Config, error) {
	pipeline, err := LoadPipelineConfigFromEnv()
	if err != nil {
		return nil, fmt.Errorf("pipeline config: %w", err)
	}

	dbCfg, err := database.LoadConfigFromEnv()
	if err != nil {
		return nil, fmt.Errorf("database config: %w", err)
	}

	inference, err := LoadInferenceConfigFromEnv()
	if err != nil {
		return nil, fmt.Errorf("inference config: %w", err)
	}

	server, err := LoadServerConfigFromEnv()
	if err != nil {
		return nil, fmt.Errorf("server config: %w", err)
	}

	retention, err := LoadRetentionConfigFromEnv()
	if err != nil {
		return nil, fmt.Errorf("retention config: %w", err)
	}

	queue, err := LoadQueueConfigFromEnv()
	if err != nil {
		return nil, fmt.Errorf("queue config: %w", err)
	}

	return &Config{
		Pipeline:  pipeline,
		Database:  dbCfg,
		Inference: inference,
		Server:    server,
		Retention: retention,
		Queue:     queue,
	}, nil
}

// PipelineConfig governs chunking, batching, and retry behavior of the
// summarization pipeline.
type PipelineConfig struct {
	ChunkSize       int
	OverlapRatio    float64
	BatchTokens     int
	BatchTimeout    time.Duration
	MaxRetries      int
	BackoffBase     float64
	CharsPerToken   int
	MaxInputLength  int
	MaxPromptTokens int
}

// LoadPipelineConfigFromEnv loads PipelineConfig with the defaults named
// in this project's configuration reference.
func LoadPipelineConfigFromEnv() (PipelineConfig, error) {
	chunkSize, err := envInt("CHUNK_SIZE", 2000)
	if err != nil {
		return PipelineConfig{}, err
	}
	overlapRatio, err := envFloat("OVERLAP_RATIO", 0.15)
	if err != nil {
		return PipelineConfig{}, err
	}
	batchTokens, err := envInt("BATCH_TOKENS", 2000)
	if err != nil {
		return PipelineConfig{}, err
	}
	batchTimeout, err := envDuration("BATCH_TIMEOUT", "45s")
	if err != nil {
		return PipelineConfig{}, err
	}
	maxRetries, err := envInt("MAX_RETRIES", 3)
	if err != nil {
		return PipelineConfig{}, err
	}
	backoffBase, err := envFloat("BACKOFF_BASE", 2)
	if err != nil {
		return PipelineConfig{}, err
	}
	charsPerToken, err := envInt("CHARS_PER_TOKEN", 4)
	if err != nil {
		return PipelineConfig{}, err
	}
	maxInputLength, err := envInt("MAX_INPUT_LENGTH", 200000)
	if err != nil {
		return PipelineConfig{}, err
	}
	maxPromptTokens, err := envInt("MAX_PROMPT_TOKENS", 8000)
	if err != nil {
		return PipelineConfig{}, err
	}

	cfg := PipelineConfig{
		ChunkSize:       chunkSize,
		OverlapRatio:    overlapRatio,
		BatchTokens:     batchTokens,
		BatchTimeout:    batchTimeout,
		MaxRetries:      maxRetries,
		BackoffBase:     backoffBase,
		CharsPerToken:   charsPerToken,
		MaxInputLength:  maxInputLength,
		MaxPromptTokens: maxPromptTokens,
	}

	if err := cfg.Validate(); err != nil {
		return PipelineConfig{}, err
	}
	return cfg, nil
}

// Validate rejects configurations that would make chunking degenerate:
// overlap must never consume the whole window.
func (c PipelineConfig) Validate() error {
	overlapTokens := int(float64(c.ChunkSize) * c.OverlapRatio)
	if overlapTokens >= c.ChunkSize {
		return fmt.Errorf("OVERLAP_RATIO (%.2f) yields overlap (%d) >= CHUNK_SIZE (%d)", c.OverlapRatio, overlapTokens, c.ChunkSize)
	}
	if c.CharsPerToken <= 0 {
		return fmt.Errorf("CHARS_PER_TOKEN must be positive")
	}
	if c.MaxRetries < 1 {
		return fmt.Errorf("MAX_RETRIES must be at least 1")
	}
	if c.BackoffBase <= 1 {
		return fmt.Errorf("BACKOFF_BASE must be greater than 1")
	}
	return nil
}

// InferenceConfig addresses the LLM inference server this pipeline calls.
type InferenceConfig struct {
	Host           string
	Port           int
	APIKey         string
	Model          string
	ContextSize    int
	GPULayers      int
	RequestTimeout time.Duration
}

// BaseURL returns the inference server's HTTP base URL.
func (c InferenceConfig) BaseURL() string {
	return fmt.Sprintf("http://%s:%d", c.Host, c.Port)
}

// LoadInferenceConfigFromEnv loads InferenceConfig from the environment.
func LoadInferenceConfigFromEnv() (InferenceConfig, error) {
	port, err := envInt("INFERENCE_PORT", 8000)
	if err != nil {
		return InferenceConfig{}, err
	}
	contextSize, err := envInt("INFERENCE_CONTEXT_SIZE", 8192)
	if err != nil {
		return InferenceConfig{}, err
	}
	gpuLayers, err := envInt("INFERENCE_GPU_LAYERS", 0)
	if err != nil {
		return InferenceConfig{}, err
	}
	timeout, err := time.ParseDuration(getEnvOrDefault("INFERENCE_REQUEST_TIMEOUT", "60s"))
	if err != nil {
		return InferenceConfig{}, fmt.Errorf("invalid INFERENCE_REQUEST_TIMEOUT: %w", err)
	}

	return InferenceConfig{
		Host:           getEnvOrDefault("INFERENCE_HOST", "localhost"),
		Port:           port,
		APIKey:         os.Getenv("INFERENCE_API_KEY"),
		Model:          getEnvOrDefault("INFERENCE_MODEL", "default"),
		ContextSize:    contextSize,
		GPULayers:      gpuLayers,
		RequestTimeout: timeout,
	}, nil
}

// ServerConfig addresses the HTTP/WS server.
type ServerConfig struct {
	ListenAddr     string
	WSWriteTimeout time.Duration
	InputDir       string
}

// LoadServerConfigFromEnv loads ServerConfig from the environment.
func LoadServerConfigFromEnv() (ServerConfig, error) {
	wsTimeout, err := time.ParseDuration(getEnvOrDefault("WS_WRITE_TIMEOUT", "10s"))
	if err != nil {
		return ServerConfig{}, fmt.Errorf("invalid WS_WRITE_TIMEOUT: %w", err)
	}

	return ServerConfig{
		ListenAddr:     getEnvOrDefault("LISTEN_ADDR", ":8080"),
		WSWriteTimeout: wsTimeout,
		InputDir:       getEnvOrDefault("AUDIO_INPUT_DIR", "./input"),
	}, nil
}

// RetentionConfig governs the retention sweeper's (pkg/cleanup) deletion of
// terminal jobs.
type RetentionConfig struct {
	TerminalJobRetention time.Duration
	SweepInterval        time.Duration
}

// LoadRetentionConfigFromEnv loads RetentionConfig from the environment.
func LoadRetentionConfigFromEnv() (RetentionConfig, error) {
	retention, err := time.ParseDuration(getEnvOrDefault("TERMINAL_JOB_RETENTION", "168h"))
	if err != nil {
		return RetentionConfig{}, fmt.Errorf("invalid TERMINAL_JOB_RETENTION: %w", err)
	}
	sweepInterval, err := time.ParseDuration(getEnvOrDefault("SWEEP_INTERVAL", "1h"))
	if err != nil {
		return RetentionConfig{}, fmt.Errorf("invalid SWEEP_INTERVAL: %w", err)
	}

	return RetentionConfig{
		TerminalJobRetention: retention,
		SweepInterval:        sweepInterval,
	}, nil
}

// QueueConfig governs the job engine's worker pool: how many workers poll
// concurrently, how often, and how long shutdown waits for in-flight jobs.
type QueueConfig struct {
	WorkerCount             int
	PollInterval            time.Duration
	PollIntervalJitter      time.Duration
	JobTimeout              time.Duration
	GracefulShutdownTimeout time.Duration
}

// LoadQueueConfigFromEnv loads QueueConfig from the environment.
func LoadQueueConfigFromEnv() (QueueConfig, error) {
	workerCount, err := envInt("QUEUE_WORKER_COUNT", runtime.NumCPU())
	if err != nil {
		return QueueConfig{}, err
	}
	pollInterval, err := time.ParseDuration(getEnvOrDefault("QUEUE_POLL_INTERVAL", "1s"))
	if err != nil {
		return QueueConfig{}, fmt.Errorf("invalid QUEUE_POLL_INTERVAL: %w", err)
	}
	pollJitter, err := time.ParseDuration(getEnvOrDefault("QUEUE_POLL_INTERVAL_JITTER", "250ms"))
	if err != nil {
		return QueueConfig{}, fmt.Errorf("invalid QUEUE_POLL_INTERVAL_JITTER: %w", err)
	}
	jobTimeout, err := time.ParseDuration(getEnvOrDefault("QUEUE_JOB_TIMEOUT", "5m"))
	if err != nil {
		return QueueConfig{}, fmt.Errorf("invalid QUEUE_JOB_TIMEOUT: %w", err)
	}
	shutdownTimeout, err := time.ParseDuration(getEnvOrDefault("QUEUE_GRACEFUL_SHUTDOWN_TIMEOUT", "30s"))
	if err != nil {
		return QueueConfig{}, fmt.Errorf("invalid QUEUE_GRACEFUL_SHUTDOWN_TIMEOUT: %w", err)
	}

	if workerCount < 1 {
		workerCount = 1
	}

	return QueueConfig{
		WorkerCount:             workerCount,
		PollInterval:            pollInterval,
		PollIntervalJitter:      pollJitter,
		JobTimeout:              jobTimeout,
		GracefulShutdownTimeout: shutdownTimeout,
	}, nil
}

// envDuration parses key as a Go duration string, also accepting a bare
// integer as seconds ("45" == "45s").
func envDuration(key, def string) (time.Duration, error) {
	raw := getEnvOrDefault(key, def)
	if secs, err := strconv.Atoi(raw); err == nil {
		return time.Duration(secs) * time.Second, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return d, nil
}

func envInt(key string, def int) (int, error) {
	raw := getEnvOrDefault(key, strconv.Itoa(def))
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return v, nil
}

func envFloat(key string, def float64) (float64, error) {
	raw := getEnvOrDefault(key, strconv.FormatFloat(def, 'f', -1, 64))
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return v, nil
}

func getEnvOrDefault(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}
