package transcription

import (
	"context"
	"strings"
	"time"

	"github.com/verbatim-audio/verbatim/internal/asr"
	"github.com/verbatim-audio/verbatim/internal/metrics"
	"github.com/verbatim-audio/verbatim/internal/protocol"
	"github.com/verbatim-audio/verbatim/pkg/logger"
)

// Transcript is one archived final result.
type Transcript struct {
	ID        int64      `json:"id"`
	SessionID string     `json:"session_id"`
	CreatedAt time.Time  `json:"created_at"`
	Text      string     `json:"text"`
	Start     float64    `json:"start"`
	End       float64    `json:"end"`
	Language  string     `json:"language"`
	Words     []asr.Word `json:"words,omitempty"`
}

// TranscriptStore archives final results. Persistence is an external
// collaborator; the pipeline only knows this boundary.
type TranscriptStore interface {
	StoreTranscript(t *Transcript) (int64, error)
}

// SpanRequest is the audio for one speech span plus the session options
// in effect when the window was flushed.
type SpanRequest struct {
	SessionID  string
	PCM        []byte
	SampleRate int
	// AbsStart is the span start in seconds relative to session stream
	// start; engine timestamps are offset by it so timestamps stay
	// monotonic across spans.
	AbsStart float64
	Model    string
	Language string
	BeamSize int
}

// Pipeline turns a speech span into an ordered sequence of result events:
// zero or more partials strictly before exactly one final, or nothing at
// all when the span produced no text. A failed invocation yields a single
// error event and never terminates the session.
type Pipeline struct {
	registry *asr.Registry
	store    TranscriptStore // may be nil
	metrics  *metrics.Metrics
	logger   *logger.Logger
}

// NewPipeline creates a pipeline over the given engine registry. store
// may be nil when archiving is disabled.
func NewPipeline(registry *asr.Registry, store TranscriptStore, m *metrics.Metrics, log *logger.Logger) *Pipeline {
	return &Pipeline{
		registry: registry,
		store:    store,
		metrics:  m,
		logger:   log.Named("pipeline"),
	}
}

// Run invokes the engine on one span and emits the resulting events in
// order through emit.
func (p *Pipeline) Run(ctx context.Context, req SpanRequest, emit func(Event)) {
	start := time.Now()
	result, err := p.registry.Transcribe(ctx, asr.Request{
		PCM:        req.PCM,
		SampleRate: req.SampleRate,
		Model:      req.Model,
		Language:   req.Language,
		BeamSize:   req.BeamSize,
	})
	p.metrics.InferenceDuration.Observe(time.Since(start).Seconds())

	if err != nil {
		p.metrics.TranscriptionFailures.Inc()
		p.logger.Error("Transcription failed for span",
			logger.String("session_id", req.SessionID),
			logger.Float64("abs_start", req.AbsStart),
			logger.Error(err))
		emit(ErrorEvent{Kind: protocol.ErrTranscriptionFailed, Detail: err.Error()})
		return
	}

	var (
		cumulative strings.Builder
		words      []asr.Word
		spanStart  = -1.0
		spanEnd    = 0.0
	)
	for _, segment := range result.Segments {
		text := strings.TrimSpace(segment.Text)
		if text == "" {
			continue
		}
		if cumulative.Len() > 0 {
			cumulative.WriteByte(' ')
		}
		cumulative.WriteString(text)

		emit(PartialEvent{
			Text:      cumulative.String(),
			Timestamp: req.AbsStart + segment.End,
		})

		if spanStart < 0 || segment.Start < spanStart {
			spanStart = segment.Start
		}
		if segment.End > spanEnd {
			spanEnd = segment.End
		}
		for _, w := range segment.Words {
			words = append(words, asr.Word{
				Word:        w.Word,
				Start:       req.AbsStart + w.Start,
				End:         req.AbsStart + w.End,
				Probability: w.Probability,
			})
		}
	}

	// A span with no transcribable text emits nothing.
	if cumulative.Len() == 0 {
		return
	}
	if len(words) > 0 {
		spanEnd = words[len(words)-1].End - req.AbsStart
	}

	final := FinalEvent{
		Text:     cumulative.String(),
		Start:    req.AbsStart + spanStart,
		End:      req.AbsStart + spanEnd,
		Language: result.Language,
		Words:    words,
	}
	emit(final)
	p.archive(req.SessionID, final)
}

// archive hands the final to the transcript store, best effort.
func (p *Pipeline) archive(sessionID string, final FinalEvent) {
	if p.store == nil {
		return
	}
	_, err := p.store.StoreTranscript(&Transcript{
		SessionID: sessionID,
		CreatedAt: time.Now().UTC(),
		Text:      final.Text,
		Start:     final.Start,
		End:       final.End,
		Language:  final.Language,
		Words:     final.Words,
	})
	if err != nil {
		p.logger.Error("Failed to archive transcript",
			logger.String("session_id", sessionID),
			logger.Error(err))
	}
}
