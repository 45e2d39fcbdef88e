package stt

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/loqalabs/loqa-assess/internal/pronunciation"
)

// RecognitionResult captures recognizer output. Detailed output, including any
// pronunciation-assessment scores, lives in the RESULT-Json property.
type RecognitionResult struct {
	SessionID  string
	Text       string
	Confidence float64
	Properties *Properties
}

// detailedResult is the shape of the RESULT-Json property.
type detailedResult struct {
	Text                    string          `json:"text"`
	Confidence              float64         `json:"confidence,omitempty"`
	PronunciationAssessment json.RawMessage `json:"pronunciationAssessment,omitempty"`
}

// AssessmentPayload implements pronunciation.PayloadCarrier. A RESULT-Json
// that is not valid JSON is returned whole so the decoder reports it as
// malformed instead of missing.
func (r RecognitionResult) AssessmentPayload() (string, bool) {
	if r.Properties == nil {
		return "", false
	}
	raw, ok := r.Properties.Lookup(PropertyJSONResult)
	if !ok || strings.TrimSpace(raw) == "" {
		return "", false
	}
	var detailed detailedResult
	if err := json.Unmarshal([]byte(raw), &detailed); err != nil {
		return raw, true
	}
	payload := strings.TrimSpace(string(detailed.PronunciationAssessment))
	if payload == "" || payload == "null" {
		return "", false
	}
	return payload, true
}

// newRecognitionResult assembles a result and its RESULT-Json property.
func newRecognitionResult(session *Session, text string, confidence float64, assessment json.RawMessage) (RecognitionResult, error) {
	props := NewProperties()
	if session != nil {
		props = session.Properties().Clone()
	}
	detailed, err := json.Marshal(detailedResult{
		Text:                    text,
		Confidence:              confidence,
		PronunciationAssessment: assessment,
	})
	if err != nil {
		return RecognitionResult{}, err
	}
	if err := props.Set(PropertyJSONResult, string(detailed)); err != nil {
		return RecognitionResult{}, err
	}
	result := RecognitionResult{Text: text, Confidence: confidence, Properties: props}
	if session != nil {
		result.SessionID = session.ID()
	}
	return result, nil
}

// Recognizer abstracts STT backends. Backends read assessment parameters from
// the session's property bag.
type Recognizer interface {
	Recognize(ctx context.Context, session *Session, pcm []byte, sampleRate int, channels int, final bool) (RecognitionResult, error)
}

var _ pronunciation.PayloadCarrier = RecognitionResult{}
