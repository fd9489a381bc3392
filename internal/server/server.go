package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/klauspost/compress/gzhttp"
	"github.com/loqalabs/loqa-tts/internal/config"
	"github.com/loqalabs/loqa-tts/internal/speech"
	"github.com/loqalabs/loqa-tts/internal/voice"
	"golang.org/x/time/rate"
)

// Synthesizer is the part of speech.Service the HTTP API depends on.
type Synthesizer interface {
	Synthesize(ctx context.Context, req speech.Request) (speech.Result, error)
}

type Options struct {
	Config  config.HTTPConfig
	Voice   voice.Info
	Metrics http.Handler
	Ready   func() bool
	Logger  *slog.Logger
}

type Server struct {
	svc     Synthesizer
	cfg     config.HTTPConfig
	voice   voice.Info
	metrics http.Handler
	ready   func() bool
	logger  *slog.Logger
}

func New(svc Synthesizer, opts Options) *Server {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Ready == nil {
		opts.Ready = func() bool { return true }
	}
	return &Server{
		svc:     svc,
		cfg:     opts.Config,
		voice:   opts.Voice,
		metrics: opts.Metrics,
		ready:   opts.Ready,
		logger:  opts.Logger.With(slog.String("component", "http")),
	}
}

func (s *Server) Router() http.Handler {
	router := chi.NewRouter()

	router.Use(middleware.RequestID)
	router.Use(s.accessLog)
	router.Use(middleware.Recoverer)
	router.Use(cors.Handler(cors.Options{
		AllowedOrigins: s.cfg.AllowedOrigins,
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"*"},
		ExposedHeaders: []string{headerRequestID, headerSegments, headerSampleRate},
		MaxAge:         300,
	}))

	router.Get("/healthz", s.handleHealth)
	router.Get("/readyz", s.handleReady)
	if s.metrics != nil {
		router.Handle("/metrics", s.metrics)
	}

	router.Group(func(router chi.Router) {
		if s.cfg.RateLimit > 0 {
			router.Use(rateLimit(s.cfg.RateLimit, s.cfg.RateBurst))
		}
		if s.cfg.Compress {
			router.Use(func(next http.Handler) http.Handler { return gzhttp.GzipHandler(next) })
		}
		router.Post("/synthesize", s.handleSynthesize)
		router.Get("/voice", s.handleVoice)
	})

	return router
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (s *Server) handleReady(w http.ResponseWriter, _ *http.Request) {
	if s.ready() {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready"))
		return
	}
	w.WriteHeader(http.StatusServiceUnavailable)
	_, _ = w.Write([]byte("not ready"))
}

func (s *Server) handleVoice(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.voice)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeDetail(w http.ResponseWriter, status int, detail string) {
	writeJSON(w, status, map[string]string{"detail": detail})
}

func (s *Server) accessLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		defer func() {
			s.logger.Info("http request",
				slog.String("request_id", middleware.GetReqID(r.Context())),
				slog.String("method", r.Method),
				slog.String("path", r.URL.Path),
				slog.Int("status", ww.Status()),
				slog.Int("bytes", ww.BytesWritten()),
				slog.Duration("elapsed", time.Since(start)))
		}()
		next.ServeHTTP(ww, r)
	})
}

func rateLimit(limit float64, burst int) func(http.Handler) http.Handler {
	if burst <= 0 {
		burst = 1
	}
	limiter := rate.NewLimiter(rate.Limit(limit), burst)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !limiter.Allow() {
				w.Header().Set("Retry-After", strconv.Itoa(retryAfter(limit)))
				writeDetail(w, http.StatusTooManyRequests, "Too many requests")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func retryAfter(limit float64) int {
	if limit >= 1 {
		return 1
	}
	return int(1/limit + 0.5)
}

func isBodyTooLarge(err error) bool {
	var maxErr *http.MaxBytesError
	return errors.As(err, &maxErr)
}
