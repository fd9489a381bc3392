package server

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/loqalabs/loqa-tts/internal/speech"
)

const (
	headerRequestID  = "X-Request-Id"
	headerSegments   = "X-Audio-Segments"
	headerSampleRate = "X-Audio-Sample-Rate"
)

type synthesizeRequest struct {
	Text string `json:"text"`
}

func (s *Server) handleSynthesize(w http.ResponseWriter, r *http.Request) {
	if s.cfg.MaxBodyBytes > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxBodyBytes)
	}

	var body synthesizeRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		if isBodyTooLarge(err) {
			writeDetail(w, http.StatusRequestEntityTooLarge, "Request body too large")
			return
		}
		writeDetail(w, http.StatusBadRequest, "Invalid JSON body")
		return
	}

	reqID := middleware.GetReqID(r.Context())
	res, err := s.svc.Synthesize(r.Context(), speech.Request{ID: reqID, Text: body.Text, Source: "http"})
	if err != nil {
		status := speech.StatusCode(err)
		if r.Context().Err() != nil {
			s.logger.Warn("client went away during synthesis", slog.String("request_id", reqID))
		}
		writeDetail(w, status, speech.Detail(err))
		return
	}

	h := w.Header()
	h.Set("Content-Type", "audio/wav")
	h.Set("Content-Length", strconv.Itoa(len(res.WAV)))
	h.Set(headerRequestID, res.ID)
	h.Set(headerSegments, strconv.Itoa(res.Segments))
	h.Set(headerSampleRate, strconv.Itoa(res.SampleRate))
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(res.WAV); err != nil {
		s.logger.Warn("failed to write audio response", slog.String("request_id", res.ID), slog.String("error", err.Error()))
	}
}
