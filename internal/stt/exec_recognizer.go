package stt

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
	"github.com/loqalabs/loqa-assess/internal/config"
	"github.com/mattn/go-shellwords"
)

// execRecognizer shells out to an external engine. The command receives the
// audio as a WAV file and, when assessment is requested, the canonical
// parameters; it prints one JSON object on stdout.
type execRecognizer struct {
	cmd []string
	cfg config.STTConfig
	mu  sync.Mutex
}

type execResult struct {
	Text                    string          `json:"text"`
	Confidence              float64         `json:"confidence"`
	PronunciationAssessment json.RawMessage `json:"pronunciation_assessment,omitempty"`
}

func NewExecRecognizer(cfg config.STTConfig) (Recognizer, error) {
	parser := shellwords.NewParser()
	args, err := parser.Parse(cfg.Command)
	if err != nil {
		return nil, fmt.Errorf("parse stt command: %w", err)
	}
	if len(args) == 0 {
		return nil, fmt.Errorf("stt command is empty")
	}
	return &execRecognizer{cmd: args, cfg: cfg}, nil
}

func (r *execRecognizer) Recognize(ctx context.Context, session *Session, pcm []byte, sampleRate int, channels int, final bool) (RecognitionResult, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	file, err := os.CreateTemp(os.TempDir(), "loqa_assess_*.wav")
	if err != nil {
		return RecognitionResult{}, fmt.Errorf("temp file: %w", err)
	}
	defer os.Remove(file.Name())
	defer file.Close()

	if err := writePCMToWav(file, pcm, sampleRate, channels); err != nil {
		return RecognitionResult{}, err
	}

	command := exec.CommandContext(ctx, r.cmd[0], r.buildArgs(session, file.Name(), final)...)
	var stdout bytes.Buffer
	var stderr bytes.Buffer
	command.Stdout = &stdout
	command.Stderr = &stderr

	if err := command.Run(); err != nil {
		return RecognitionResult{}, fmt.Errorf("stt command failed: %w: %s", err, stderr.String())
	}

	var resp execResult
	if err := json.Unmarshal(stdout.Bytes(), &resp); err != nil {
		return RecognitionResult{}, fmt.Errorf("decode stt response: %w", err)
	}
	return newRecognitionResult(session, resp.Text, resp.Confidence, resp.PronunciationAssessment)
}

func (r *execRecognizer) buildArgs(session *Session, audioPath string, final bool) []string {
	args := append([]string{}, r.cmd[1:]...)
	args = append(args, "--audio", audioPath)
	if r.cfg.ModelPath != "" {
		args = append(args, "--model", r.cfg.ModelPath)
	}
	language := r.cfg.Language
	if session != nil && session.Language() != "" {
		language = session.Language()
	}
	if language != "" {
		args = append(args, "--language", language)
	}
	if !final {
		args = append(args, "--partial")
	}
	if session != nil {
		if params, ok := session.AssessmentParameters(); ok && params != "" {
			args = append(args, "--assessment-params", params)
		}
	}
	return args
}

func writePCMToWav(w io.WriteSeeker, pcm []byte, sampleRate int, channels int) error {
	if len(pcm)%2 != 0 {
		return fmt.Errorf("pcm payload not aligned")
	}
	buffer := &audio.IntBuffer{Format: &audio.Format{NumChannels: channels, SampleRate: sampleRate}}
	samples := make([]int, len(pcm)/2)
	for i := 0; i < len(samples); i++ {
		samples[i] = int(int16(binary.LittleEndian.Uint16(pcm[i*2:])))
	}
	buffer.Data = samples

	enc := wav.NewEncoder(w, sampleRate, 16, channels, 1)
	if err := enc.Write(buffer); err != nil {
		return fmt.Errorf("write wav: %w", err)
	}
	if err := enc.Close(); err != nil {
		return fmt.Errorf("close wav encoder: %w", err)
	}
	return nil
}
