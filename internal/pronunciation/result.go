package pronunciation

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// Result is the score tree decoded from one recognition result.
// Scores are reported on the grading system of the originating request and
// are not range checked here.
type Result struct {
	AccuracyScore      float64 `json:"accuracyScore"`
	PronunciationScore float64 `json:"pronunciationScore"`
	CompletenessScore  float64 `json:"completenessScore"`
	FluencyScore       float64 `json:"fluencyScore"`
	Words              []Word  `json:"words"`
}

// Word is one recognized or reference word, in utterance order.
type Word struct {
	Text          string    `json:"text"`
	AccuracyScore float64   `json:"accuracyScore"`
	ErrorType     ErrorType `json:"errorType,omitempty"`
	Phonemes      []Phoneme `json:"phonemes"`
}

// Phoneme is empty unless the request asked for phoneme granularity.
type Phoneme struct {
	Symbol        string  `json:"symbol"`
	AccuracyScore float64 `json:"accuracyScore"`
}

// FromRecognitionResult decodes the scoring payload carried by result.
// A result without a payload fails with ErrMissingPayload; a payload that is
// not the expected JSON shape fails with ErrMalformedInput.
func FromRecognitionResult(result PayloadCarrier) (*Result, error) {
	if result == nil {
		return nil, ErrMissingPayload
	}
	payload, ok := result.AssessmentPayload()
	if !ok || strings.TrimSpace(payload) == "" {
		return nil, ErrMissingPayload
	}
	return ParseResult([]byte(payload))
}

// ParseResult decodes a raw scoring payload. Absent scores decode as zero and
// absent word or phoneme lists as empty slices.
func ParseResult(payload []byte) (*Result, error) {
	trimmed := bytes.TrimSpace(payload)
	if len(trimmed) == 0 {
		return nil, ErrMissingPayload
	}
	if trimmed[0] != '{' {
		return nil, malformed(payload, errors.New("payload is not a JSON object"))
	}

	var r Result
	if err := json.Unmarshal(trimmed, &r); err != nil {
		return nil, malformed(payload, fmt.Errorf("decode assessment payload: %w", err))
	}
	r.normalize()
	return &r, nil
}

func (r *Result) normalize() {
	if r.Words == nil {
		r.Words = []Word{}
	}
	for i := range r.Words {
		if r.Words[i].Phonemes == nil {
			r.Words[i].Phonemes = []Phoneme{}
		}
	}
}

// HasPhonemeDetail reports whether any word carries phoneme scores.
func (r *Result) HasPhonemeDetail() bool {
	for _, w := range r.Words {
		if len(w.Phonemes) > 0 {
			return true
		}
	}
	return false
}

// Miscues returns the words tagged as omission, insertion or mispronunciation.
func (r *Result) Miscues() []Word {
	var out []Word
	for _, w := range r.Words {
		if w.ErrorType.IsMiscue() {
			out = append(out, w)
		}
	}
	return out
}
