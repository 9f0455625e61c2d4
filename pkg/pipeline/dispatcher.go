package pipeline

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/open-meetsum/meetsum/pkg/apperr"
	"github.com/open-meetsum/meetsum/pkg/chunker"
	"github.com/open-meetsum/meetsum/pkg/config"
	"github.com/open-meetsum/meetsum/pkg/events"
	"github.com/open-meetsum/meetsum/pkg/merger"
	"github.com/open-meetsum/meetsum/pkg/models"
	"github.com/open-meetsum/meetsum/pkg/prompt"
	"github.com/open-meetsum/meetsum/pkg/store"
)

// defaultCompletionTokens bounds how much text a single inference call may
// return; the pipeline's own request-size cap (MAX_PROMPT_TOKENS) governs
// the prompt side, this governs the response side.
const defaultCompletionTokens = 1024

// CompletionClient is the LLM inference backend, out of scope for this
// service beyond its interface: complete(prompt, max_tokens, temperature,
// stop) → text. inference.Client is the production implementation; tests
// substitute a stub.
type CompletionClient interface {
	Complete(ctx context.Context, prompt string, maxTokens int, temperature float64, stop []string) (string, error)
}

// Dispatcher executes the business logic behind each job type. The worker
// pool (pkg/queue) calls Dispatch once per claimed job and classifies the
// returned error via the apperr sentinels to decide retry/non-retry/fatal
// handling.
type Dispatcher struct {
	db          *sql.DB
	segments    *store.SegmentRepository
	summaries   *store.SummaryRepository
	jobs        *store.JobRepository
	publisher   *events.Publisher
	chunker     *chunker.Chunker
	merger      *merger.Merger
	inference   CompletionClient
	transcriber Transcriber
	pipelineCfg config.PipelineConfig
}

// NewDispatcher constructs a Dispatcher over the shared repositories.
func NewDispatcher(
	db *sql.DB,
	segments *store.SegmentRepository,
	summaries *store.SummaryRepository,
	jobs *store.JobRepository,
	publisher *events.Publisher,
	chunker *chunker.Chunker,
	merger *merger.Merger,
	inferenceClient CompletionClient,
	transcriber Transcriber,
	pipelineCfg config.PipelineConfig,
) *Dispatcher {
	if transcriber == nil {
		transcriber = UnconfiguredTranscriber{}
	}
	return &Dispatcher{
		db:          db,
		segments:    segments,
		summaries:   summaries,
		jobs:        jobs,
		publisher:   publisher,
		chunker:     chunker,
		merger:      merger,
		inference:   inferenceClient,
		transcriber: transcriber,
		pipelineCfg: pipelineCfg,
	}
}

// Dispatch runs jobType's business logic for job. The returned error's
// classification (errors.Is against apperr's sentinels) tells the caller
// whether to retry, complete non-retryably, or fail outright.
func (d *Dispatcher) Dispatch(ctx context.Context, job *models.Job) error {
	switch job.Type {
	case models.JobTypeChunkSummary:
		return d.dispatchChunkSummary(ctx, job)
	case models.JobTypeComposeSummary:
		return d.dispatchComposeSummary(ctx, job)
	case models.JobTypeAnnotateActionItems:
		return d.dispatchAnnotateActionItems(ctx, job)
	case models.JobTypeAudioTranscribe:
		return d.dispatchAudioTranscribe(ctx, job)
	default:
		return apperr.WrapFatal(fmt.Errorf("unknown job type %q", job.Type))
	}
}

// dispatchChunkSummary loads every segment, chunks them, and persists one
// incremental summary per chunk.
func (d *Dispatcher) dispatchChunkSummary(ctx context.Context, job *models.Job) error {
	segments, err := d.segments.GetByMeeting(ctx, job.MeetingID)
	if err != nil {
		return err
	}
	if len(segments) == 0 {
		return apperr.WrapMalformedLLM(fmt.Errorf("no segments to summarize for meeting %s", job.MeetingID))
	}

	for _, c := range d.chunker.Chunk(segments) {
		text, err := d.inference.Complete(ctx, prompt.BuildChunkPrompt(c), defaultCompletionTokens, 0.2, nil)
		if err != nil {
			return err
		}

		var content models.SummaryContent
		if err := json.Unmarshal([]byte(text), &content); err != nil {
			return apperr.WrapMalformedLLM(fmt.Errorf("parse chunk summary for meeting %s: %w", job.MeetingID, err))
		}
		attachSourceSegmentIDs(&content, c.SegmentIDs)

		if err := d.persistSummary(ctx, job.MeetingID, models.SummaryTypeIncremental, content); err != nil {
			return err
		}
	}
	return nil
}

// attachSourceSegmentIDs fills in source_segment_ids on decisions and
// action items the model left empty, defaulting to every segment the
// originating chunk covered (the model is not asked to attribute
// per-sentence provenance, only per-chunk).
func attachSourceSegmentIDs(content *models.SummaryContent, chunkSegmentIDs []string) {
	for i := range content.Decisions {
		if len(content.Decisions[i].SourceSegmentIDs) == 0 {
			content.Decisions[i].SourceSegmentIDs = chunkSegmentIDs
		}
	}
	for i := range content.ActionItems {
		if len(content.ActionItems[i].SourceSegmentIDs) == 0 {
			content.ActionItems[i].SourceSegmentIDs = chunkSegmentIDs
		}
	}
}

// dispatchComposeSummary merges every incremental summary into one final
// summary. An empty incremental set merges to an empty but valid
// SummaryContent rather than failing, so a meeting whose chunk summaries
// all fell through still finalizes cleanly.
func (d *Dispatcher) dispatchComposeSummary(ctx context.Context, job *models.Job) error {
	incrementals, err := d.summaries.GetAllIncremental(ctx, job.MeetingID)
	if err != nil {
		return err
	}

	contents := make([]models.SummaryContent, len(incrementals))
	for i, s := range incrementals {
		contents[i] = s.Content
	}

	merged := d.merger.Merge(contents)
	return d.persistSummary(ctx, job.MeetingID, models.SummaryTypeFinal, merged)
}

// dispatchAnnotateActionItems fills in missing owner/due-date fields on the
// latest final summary's action items and persists the result as a new
// final summary row; reads take the latest, so annotation appends rather
// than updating in place. A final summary must already exist — if not,
// this is a missing-prerequisite condition and completes non-retryably
// rather than failing.
func (d *Dispatcher) dispatchAnnotateActionItems(ctx context.Context, job *models.Job) error {
	latest, err := d.summaries.GetLatest(ctx, job.MeetingID, models.SummaryTypeFinal)
	if err != nil {
		if errors.Is(err, apperr.ErrNotFound) {
			return apperr.WrapMalformedLLM(fmt.Errorf("no final summary to annotate for meeting %s", job.MeetingID))
		}
		return err
	}

	content := latest.Content
	for i := range content.ActionItems {
		item := &content.ActionItems[i]
		if item.Owner != nil && item.DueDateISO != nil {
			continue
		}

		text, err := d.inference.Complete(ctx, prompt.BuildAnnotationPrompt(item.Text), defaultCompletionTokens, 0, nil)
		if err != nil {
			return err
		}

		var annotation struct {
			Owner      *string `json:"owner"`
			DueDateISO *string `json:"due_date_iso"`
		}
		if err := json.Unmarshal([]byte(text), &annotation); err != nil {
			slog.Warn("skipping unparseable action item annotation", "meeting_id", job.MeetingID, "action_item", item.Text, "error", err)
			continue
		}
		if item.Owner == nil {
			item.Owner = annotation.Owner
		}
		if item.DueDateISO == nil {
			item.DueDateISO = annotation.DueDateISO
		}
	}

	return d.persistSummary(ctx, job.MeetingID, models.SummaryTypeFinal, content)
}

// dispatchAudioTranscribe transcribes the uploaded file, stores the
// transcript as segments on the job's synthetic meeting, and finalizes that
// meeting into the same CHUNK/COMPOSE/ANNOTATE pipeline used by
// live-ingested meetings.
func (d *Dispatcher) dispatchAudioTranscribe(ctx context.Context, job *models.Job) error {
	filePath, _ := job.Payload["file_path"].(string)
	if filePath == "" {
		return apperr.WrapFatal(fmt.Errorf("audio job %s missing file_path payload", job.ID))
	}

	result, err := d.transcriber.Transcribe(ctx, filePath)
	if err != nil {
		return err
	}
	if len(result.Segments) == 0 {
		return apperr.WrapMalformedLLM(fmt.Errorf("transcription produced no segments for %s", filePath))
	}

	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return apperr.WrapFatal(fmt.Errorf("begin audio-transcribe transaction: %w", err))
	}
	defer func() { _ = tx.Rollback() }()

	txSegments := store.NewSegmentRepository(tx)
	for _, seg := range result.Segments {
		tokenCount := chunker.EstimateTokens(seg.Text, d.pipelineCfg.CharsPerToken)
		if _, err := txSegments.Create(ctx, job.MeetingID, seg.Speaker, seg.Ts, seg.Text, tokenCount); err != nil {
			return err
		}
	}

	txMeetings := store.NewMeetingRepository(tx)
	if err := txMeetings.Finalize(ctx, job.MeetingID); err != nil && !errors.Is(err, apperr.ErrConflict) {
		return err
	}
	if _, err := d.jobs.CreateTx(ctx, tx, job.MeetingID, models.JobTypeChunkSummary, nil); err != nil {
		return err
	}
	if _, err := d.jobs.CreateTx(ctx, tx, job.MeetingID, models.JobTypeComposeSummary, nil); err != nil {
		return err
	}
	if _, err := d.jobs.CreateTx(ctx, tx, job.MeetingID, models.JobTypeAnnotateActionItems, nil); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return apperr.WrapFatal(fmt.Errorf("commit audio-transcribe for meeting %s: %w", job.MeetingID, err))
	}
	return nil
}

// persistSummary inserts content as a new summary row and fires
// summary_update atomically with the insert (pg_notify is transactional,
// see pkg/events/publisher.go).
func (d *Dispatcher) persistSummary(ctx context.Context, meetingID string, summaryType models.SummaryType, content models.SummaryContent) error {
	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return apperr.WrapFatal(fmt.Errorf("begin persist-summary transaction: %w", err))
	}
	defer func() { _ = tx.Rollback() }()

	txSummaries := store.NewSummaryRepository(tx)
	if _, err := txSummaries.Create(ctx, meetingID, summaryType, content); err != nil {
		return err
	}
	if err := d.publisher.NotifySummaryUpdate(ctx, tx, meetingID); err != nil {
		return apperr.WrapFatal(err)
	}

	if err := tx.Commit(); err != nil {
		return apperr.WrapFatal(fmt.Errorf("commit persist-summary for meeting %s: %w", meetingID, err))
	}
	return nil
}
