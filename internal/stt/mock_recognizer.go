package stt

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/loqalabs/loqa-assess/internal/pronunciation"
)

type mockRecognizer struct{}

// NewMockRecognizer returns a recognizer that echoes the audio length and,
// when the session requests assessment, emits deterministic synthetic scores.
func NewMockRecognizer() Recognizer {
	return &mockRecognizer{}
}

func (m *mockRecognizer) Recognize(ctx context.Context, session *Session, pcm []byte, _ int, _ int, final bool) (RecognitionResult, error) {
	if err := ctx.Err(); err != nil {
		return RecognitionResult{}, err
	}
	mode := "partial"
	if final {
		mode = "final"
	}
	text := fmt.Sprintf("[%s transcript length=%d]", mode, len(pcm))

	var assessment json.RawMessage
	if session != nil && final {
		cfg, err := session.AssessmentConfig()
		switch {
		case err == nil:
			payload, err := json.Marshal(mockScores(cfg, len(pcm)))
			if err != nil {
				return RecognitionResult{}, fmt.Errorf("encode mock assessment: %w", err)
			}
			assessment = payload
			if ref := strings.TrimSpace(cfg.ReferenceText()); ref != "" {
				text = ref
			}
		case errors.Is(err, pronunciation.ErrMissingPayload):
			// assessment not requested
		default:
			return RecognitionResult{}, fmt.Errorf("read assessment parameters: %w", err)
		}
	}
	return newRecognitionResult(session, text, 0, assessment)
}

// mockScores derives stable scores from the request and audio length.
func mockScores(cfg *pronunciation.Config, audioLen int) pronunciation.Result {
	scale := 1.0
	if cfg.GradingSystem() == pronunciation.GradingFivePoint {
		scale = 0.05
	}
	score := func(seed int) float64 {
		return float64(60+(audioLen+seed*7)%40) * scale
	}

	result := pronunciation.Result{
		AccuracyScore:      score(1),
		PronunciationScore: score(2),
		CompletenessScore:  score(3),
		FluencyScore:       score(4),
		Words:              []pronunciation.Word{},
	}
	if cfg.Granularity() == pronunciation.GranularityFullText {
		return result
	}

	for i, text := range strings.Fields(cfg.ReferenceText()) {
		word := pronunciation.Word{
			Text:          text,
			AccuracyScore: score(10 + i),
			Phonemes:      []pronunciation.Phoneme{},
		}
		if cfg.MiscueEnabled() {
			word.ErrorType = pronunciation.ErrorTypeNone
		}
		if cfg.Granularity() == pronunciation.GranularityPhoneme {
			for j, r := range strings.ToLower(text) {
				word.Phonemes = append(word.Phonemes, pronunciation.Phoneme{
					Symbol:        string(r),
					AccuracyScore: score(100 + i*13 + j),
				})
			}
		}
		result.Words = append(result.Words, word)
	}
	return result
}
