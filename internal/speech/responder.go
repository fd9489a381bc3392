package speech

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/loqalabs/loqa-tts/internal/bus"
	"github.com/loqalabs/loqa-tts/internal/protocol"
	"github.com/nats-io/nats.go"
)

// Responder serves synthesis over the bus and broadcasts completions.
type Responder struct {
	svc     *Service
	bus     *bus.Client
	nodeID  string
	timeout time.Duration
	sub     *nats.Subscription
	ctx     context.Context
	cancel  context.CancelFunc
	logger  *slog.Logger

	mu     sync.Mutex
	closed bool
	wg     sync.WaitGroup
}

func NewResponder(parent context.Context, svc *Service, busClient *bus.Client, nodeID string, timeout time.Duration, log *slog.Logger) *Responder {
	ctx, cancel := context.WithCancel(parent)
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &Responder{
		svc:     svc,
		bus:     busClient,
		nodeID:  nodeID,
		timeout: timeout,
		ctx:     ctx,
		cancel:  cancel,
		logger:  log.With(slog.String("component", "tts-responder")),
	}
}

func (r *Responder) Start() error {
	sub, err := r.bus.Conn().Subscribe(protocol.SubjectSynthesize, r.handleRequest)
	if err != nil {
		return err
	}
	r.sub = sub
	r.svc.OnComplete(r.publishCompleted)
	return nil
}

// Close stops accepting requests, cancels the ones in flight and waits for
// their replies. Requests still queued on the subscription are answered 503.
func (r *Responder) Close() {
	r.mu.Lock()
	r.closed = true
	r.mu.Unlock()

	r.cancel()
	if r.sub != nil {
		_ = r.sub.Drain()
	}
	r.wg.Wait()
}

func (r *Responder) Healthy() bool { return r.sub != nil && r.bus.Healthy() }

func (r *Responder) handleRequest(msg *nats.Msg) {
	var req protocol.SynthesizeRequest
	if err := json.Unmarshal(msg.Data, &req); err != nil {
		r.logger.Warn("failed to decode synthesize request", slogError(err))
		r.reply(msg, protocol.SynthesizeReply{Status: http.StatusBadRequest, Error: "invalid request payload"})
		return
	}

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		r.reply(msg, protocol.SynthesizeReply{RequestID: req.RequestID, Status: http.StatusServiceUnavailable, Error: "responder is shutting down"})
		return
	}
	r.wg.Add(1)
	r.mu.Unlock()

	go func() {
		defer r.wg.Done()

		ctx, cancel := context.WithTimeout(r.ctx, r.timeout)
		defer cancel()

		res, err := r.svc.Synthesize(ctx, Request{ID: req.RequestID, Text: req.Text, Source: "bus"})
		reply := protocol.SynthesizeReply{
			RequestID:  res.ID,
			Status:     StatusCode(err),
			SampleRate: res.SampleRate,
			Segments:   res.Segments,
			WAV:        res.WAV,
		}
		if err != nil {
			reply.Error = Detail(err)
		}
		r.reply(msg, reply)
	}()
}

func (r *Responder) reply(msg *nats.Msg, reply protocol.SynthesizeReply) {
	if msg.Reply == "" {
		return
	}
	data, err := json.Marshal(reply)
	if err != nil {
		r.logger.Warn("failed to marshal synthesize reply", slogError(err))
		return
	}
	if size, limit := len(data), r.bus.Conn().MaxPayload(); int64(size) > limit {
		r.logger.Warn("synthesize reply exceeds bus max payload",
			slog.String("request_id", reply.RequestID),
			slog.Int("bytes", size),
			slog.Int64("max_payload", limit))
		data, err = json.Marshal(protocol.SynthesizeReply{
			RequestID:  reply.RequestID,
			Status:     http.StatusInternalServerError,
			SampleRate: reply.SampleRate,
			Segments:   reply.Segments,
			Error:      fmt.Sprintf("reply of %d bytes exceeds bus max payload of %d bytes", size, limit),
		})
		if err != nil {
			r.logger.Warn("failed to marshal synthesize reply", slogError(err))
			return
		}
	}
	if err := msg.Respond(data); err != nil {
		r.logger.Warn("failed to send synthesize reply", slogError(err))
	}
}

func (r *Responder) publishCompleted(done Completion) {
	event := protocol.SynthesisCompleted{
		RequestID: done.RequestID,
		NodeID:    r.nodeID,
		Voice:     done.Voice,
		Source:    done.Source,
		Status:    done.Status,
		Segments:  done.Segments,
		PCMBytes:  done.PCMBytes,
		AudioMS:   done.Audio.Milliseconds(),
		ElapsedMS: done.Elapsed.Milliseconds(),
		Timestamp: time.Now().UTC(),
	}
	if done.Err != nil {
		event.Error = Detail(done.Err)
	}
	data, err := json.Marshal(event)
	if err != nil {
		r.logger.Warn("failed to marshal completion", slogError(err))
		return
	}
	if err := r.bus.Conn().Publish(protocol.SubjectSynthesisCompleted, data); err != nil {
		r.logger.Warn("failed to publish completion", slogError(err))
	}
}

// Detail is the caller-facing message for a Synthesize error. Backend
// failures pass through verbatim.
func Detail(err error) string {
	if errors.Is(err, ErrEmptyText) {
		return "Text is required"
	}
	return err.Error()
}

func slogError(err error) slog.Attr {
	return slog.String("error", err.Error())
}
