package protocol

import "time"

// SynthesizeRequest asks a tts node to render text.
type SynthesizeRequest struct {
	RequestID string `json:"request_id,omitempty"`
	Text      string `json:"text"`
}

// SynthesizeReply carries the rendered WAV file or the failure.
type SynthesizeReply struct {
	RequestID  string `json:"request_id"`
	Status     int    `json:"status"`
	Error      string `json:"error,omitempty"`
	SampleRate int    `json:"sample_rate,omitempty"`
	Segments   int    `json:"segments,omitempty"`
	WAV        []byte `json:"wav,omitempty"`
}

// SynthesisCompleted is broadcast after every synthesis attempt.
type SynthesisCompleted struct {
	RequestID string    `json:"request_id"`
	NodeID    string    `json:"node_id"`
	Voice     string    `json:"voice"`
	Source    string    `json:"source"`
	Status    int       `json:"status"`
	Segments  int       `json:"segments"`
	PCMBytes  int       `json:"pcm_bytes"`
	AudioMS   int64     `json:"audio_ms"`
	ElapsedMS int64     `json:"elapsed_ms"`
	Error     string    `json:"error,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

const (
	SubjectSynthesize          = "tts.synthesize"
	SubjectSynthesisCompleted  = "tts.synthesis.completed"
	SubjectNodeAnnounce        = "ctrl.node.announce"
	SubjectNodeHeartbeatPrefix = "ctrl.node.heartbeat"
)
