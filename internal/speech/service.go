package speech

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/loqalabs/loqa-tts/internal/audio"
	"github.com/loqalabs/loqa-tts/internal/eventstore"
	"github.com/loqalabs/loqa-tts/internal/tts"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/semaphore"
)

// ErrEmptyText rejects requests without text before any synthesis work starts.
var ErrEmptyText = errors.New("text is required")

// SynthesisError wraps a backend or assembly failure. Its message is the
// underlying failure's message, unchanged.
type SynthesisError struct {
	Err error
}

func (e *SynthesisError) Error() string { return e.Err.Error() }

func (e *SynthesisError) Unwrap() error { return e.Err }

// Request is a single synthesis job.
type Request struct {
	ID     string
	Text   string
	Source string
}

// Result is the rendered audio of a request.
type Result struct {
	ID         string
	WAV        []byte
	SampleRate int
	Segments   int
	PCMBytes   int
	Audio      time.Duration
	Elapsed    time.Duration
}

// Completion summarizes a finished request for listeners.
type Completion struct {
	RequestID string
	Voice     string
	Source    string
	Status    int
	Segments  int
	PCMBytes  int
	Audio     time.Duration
	Elapsed   time.Duration
	Err       error
}

// NoGap disables the silence between segments.
const NoGap time.Duration = -1

// GapMillis converts a configured gap in milliseconds, where 0 disables the
// gap, into an Options.Gap value.
func GapMillis(ms int) time.Duration {
	if ms <= 0 {
		return NoGap
	}
	return time.Duration(ms) * time.Millisecond
}

// Options configure a Service.
type Options struct {
	Voice string
	// Gap is the silence between segments. Zero means audio.DefaultGap;
	// NoGap disables it.
	Gap            time.Duration
	MaxConcurrency int
	Store          *eventstore.Store
	Logger         *slog.Logger
}

// Service turns text into a WAV file: the synthesizer produces ordered
// segments and the assembler joins and frames them.
type Service struct {
	synth   tts.Synthesizer
	asm     *audio.Assembler
	voice   string
	store   *eventstore.Store
	sem     *semaphore.Weighted
	log     *slog.Logger
	tracer  trace.Tracer
	metrics *metrics

	mu        sync.RWMutex
	listeners []func(Completion)
}

func NewService(synth tts.Synthesizer, opts Options) *Service {
	if opts.MaxConcurrency <= 0 {
		opts.MaxConcurrency = 1
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	switch {
	case opts.Gap == 0:
		opts.Gap = audio.DefaultGap
	case opts.Gap < 0:
		opts.Gap = 0
	}
	log := opts.Logger.With(slog.String("component", "speech"))
	return &Service{
		synth:   synth,
		asm:     audio.NewAssembler(opts.Gap),
		voice:   opts.Voice,
		store:   opts.Store,
		sem:     semaphore.NewWeighted(int64(opts.MaxConcurrency)),
		log:     log,
		tracer:  otel.Tracer("github.com/loqalabs/loqa-tts/speech"),
		metrics: newMetrics(log),
	}
}

// SampleRate is the rate of every file this service produces.
func (s *Service) SampleRate() int { return s.synth.SampleRate() }

// OnComplete registers fn to be called after every request.
func (s *Service) OnComplete(fn func(Completion)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listeners = append(s.listeners, fn)
}

// Synthesize renders req.Text. Empty text fails with ErrEmptyText; any other
// failure is a *SynthesisError.
func (s *Service) Synthesize(ctx context.Context, req Request) (Result, error) {
	if req.ID == "" {
		req.ID = uuid.NewString()
	}
	start := time.Now()
	res := Result{ID: req.ID, SampleRate: s.synth.SampleRate()}

	if req.Text == "" {
		s.finish(ctx, req, res, start, ErrEmptyText)
		return res, ErrEmptyText
	}

	ctx, span := s.tracer.Start(ctx, "speech.synthesize", trace.WithAttributes(
		attribute.String("request.id", req.ID),
		attribute.String("voice", s.voice),
		attribute.Int("text.chars", len(req.Text)),
	))
	defer span.End()

	res, err := s.render(ctx, req, res)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetAttributes(attribute.Int("audio.segments", res.Segments), attribute.Int("audio.pcm_bytes", res.PCMBytes))
	}
	s.finish(ctx, req, res, start, err)
	if err != nil {
		return Result{ID: req.ID, SampleRate: res.SampleRate}, err
	}
	res.Elapsed = time.Since(start)
	return res, nil
}

func (s *Service) render(ctx context.Context, req Request, res Result) (Result, error) {
	if err := s.sem.Acquire(ctx, 1); err != nil {
		return res, &SynthesisError{Err: err}
	}
	defer s.sem.Release(1)

	segments, err := s.synth.Synthesize(ctx, req.Text)
	if err != nil {
		return res, &SynthesisError{Err: err}
	}
	if len(segments) == 0 {
		s.log.Warn("synthesizer produced no segments", slog.String("request_id", req.ID))
	}

	_, span := s.tracer.Start(ctx, "speech.assemble")
	defer span.End()

	// The gap length and the header rate must come from the same value.
	rate := s.synth.SampleRate()
	wav, err := s.asm.Assemble(tts.PCM(segments), rate)
	if err != nil {
		return res, &SynthesisError{Err: err}
	}

	res.WAV = wav
	res.SampleRate = rate
	res.Segments = len(segments)
	res.PCMBytes = len(wav) - audio.HeaderSize
	res.Audio = audio.Duration(res.PCMBytes, rate)
	return res, nil
}

func (s *Service) finish(ctx context.Context, req Request, res Result, start time.Time, err error) {
	elapsed := time.Since(start)
	status := StatusCode(err)

	s.metrics.record(ctx, status, res, elapsed)

	rec := eventstore.Synthesis{
		RequestID: req.ID,
		Source:    req.Source,
		Voice:     s.voice,
		TextChars: len(req.Text),
		Segments:  res.Segments,
		PCMBytes:  res.PCMBytes,
		AudioMS:   res.Audio.Milliseconds(),
		ElapsedMS: elapsed.Milliseconds(),
		Status:    eventstore.StatusOK,
	}
	switch status {
	case http.StatusBadRequest:
		rec.Status = eventstore.StatusRejected
		rec.Error = err.Error()
	case http.StatusInternalServerError:
		rec.Status = eventstore.StatusFailed
		rec.Error = err.Error()
	}
	// Persist even when the caller's context is already gone.
	if storeErr := s.store.Record(context.WithoutCancel(ctx), rec); storeErr != nil {
		s.log.Warn("failed to record synthesis", slog.String("error", storeErr.Error()))
	}

	if err != nil && status == http.StatusInternalServerError {
		s.log.Error("synthesis failed", slog.String("request_id", req.ID), slog.String("error", err.Error()))
	} else if err == nil {
		s.log.Info("synthesis complete",
			slog.String("request_id", req.ID),
			slog.Int("segments", res.Segments),
			slog.Int("pcm_bytes", res.PCMBytes),
			slog.Duration("audio", res.Audio),
			slog.Duration("elapsed", elapsed))
	}

	s.mu.RLock()
	listeners := append([]func(Completion){}, s.listeners...)
	s.mu.RUnlock()
	done := Completion{
		RequestID: req.ID,
		Voice:     s.voice,
		Source:    req.Source,
		Status:    status,
		Segments:  res.Segments,
		PCMBytes:  res.PCMBytes,
		Audio:     res.Audio,
		Elapsed:   elapsed,
		Err:       err,
	}
	for _, fn := range listeners {
		fn(done)
	}
}

// StatusCode maps a Synthesize error to the HTTP status reported to callers.
func StatusCode(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, ErrEmptyText):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}
