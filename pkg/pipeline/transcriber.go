package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/open-meetsum/meetsum/pkg/apperr"
)

// SupportedAudioExtensions lists the file extensions the audio upload path
// accepts, including the leading dot.
var SupportedAudioExtensions = map[string]bool{
	".mp3":  true,
	".wav":  true,
	".m4a":  true,
	".ogg":  true,
	".flac": true,
	".aac":  true,
	".wma":  true,
	".webm": true,
}

// TranscriptSegment is one speaker utterance recovered from an audio file.
type TranscriptSegment struct {
	Speaker string
	Ts      time.Time
	Text    string
}

// TranscriptResult is the output of transcribing a single audio file.
type TranscriptResult struct {
	Text     string
	Language string
	Duration time.Duration
	Segments []TranscriptSegment
}

// Transcriber is the speech-to-text backend. Transcription itself is an
// external concern; only the interface lives here.
type Transcriber interface {
	Transcribe(ctx context.Context, path string) (TranscriptResult, error)
}

// UnconfiguredTranscriber is the default Transcriber wired when no real
// speech-to-text backend is configured. It fails every AUDIO_TRANSCRIBE job
// with a Fatal error rather than silently producing an empty transcript, so
// the deployment gap is visible in jobs.last_error instead of being mistaken
// for a meeting with no content.
type UnconfiguredTranscriber struct{}

// Transcribe always fails; see UnconfiguredTranscriber.
func (UnconfiguredTranscriber) Transcribe(ctx context.Context, path string) (TranscriptResult, error) {
	return TranscriptResult{}, apperr.WrapFatal(fmt.Errorf("no transcription backend configured for %s", path))
}
