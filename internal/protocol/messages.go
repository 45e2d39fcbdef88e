package protocol

import (
	"encoding/json"
	"time"

	"github.com/loqalabs/loqa-assess/internal/pronunciation"
)

// AudioFrame represents PCM audio data streamed from edge devices.
// Assessment optionally carries canonical assessment parameters. Every frame
// that carries them replaces the session's current parameters, including
// service defaults and earlier frames, so the last frame to carry them,
// the final frame included, decides the assessment.
type AudioFrame struct {
	SessionID  string          `json:"session_id"`
	Sequence   int             `json:"sequence"`
	SampleRate int             `json:"sample_rate"`
	Channels   int             `json:"channels"`
	PCM        []byte          `json:"pcm"`
	Final      bool            `json:"final"`
	Assessment json.RawMessage `json:"assessment,omitempty"`
}

// Transcript represents STT output broadcast on the bus.
type Transcript struct {
	SessionID  string    `json:"session_id"`
	Text       string    `json:"text"`
	Partial    bool      `json:"partial"`
	Timestamp  time.Time `json:"timestamp"`
	Confidence float64   `json:"confidence,omitempty"`
}

// AssessmentRequest attaches assessment parameters to a session before its
// final frame arrives.
type AssessmentRequest struct {
	SessionID string          `json:"session_id"`
	Params    json.RawMessage `json:"params"`
}

// AssessmentReport is published once per assessed recognition.
type AssessmentReport struct {
	SessionID     string                `json:"session_id"`
	TraceID       string                `json:"trace_id"`
	Text          string                `json:"text,omitempty"`
	GradingSystem string                `json:"grading_system,omitempty"`
	Granularity   string                `json:"granularity,omitempty"`
	ScenarioID    string                `json:"scenario_id,omitempty"`
	Result        *pronunciation.Result `json:"result,omitempty"`
	Error         string                `json:"error,omitempty"`
	Timestamp     time.Time             `json:"timestamp"`
}

const (
	SubjectAudioFramePrefix        = "audio.frame"
	SubjectTranscriptFinal         = "stt.text.final"
	SubjectAssessmentParamsPrefix  = "assessment.params"
	SubjectAssessmentResult        = "assessment.result"
	EventTypeAssessmentReport      = "pronunciation.assessment"
	EventTypeAssessmentParamsError = "pronunciation.params_rejected"
)
