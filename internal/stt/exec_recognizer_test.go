package stt

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/go-audio/wav"
	"github.com/loqalabs/loqa-assess/internal/config"
	"github.com/loqalabs/loqa-assess/internal/pronunciation"
	"github.com/stretchr/testify/require"
)

func TestNewExecRecognizerRejectsEmptyCommand(t *testing.T) {
	_, err := NewExecRecognizer(config.STTConfig{Command: "  "})
	require.Error(t, err)
}

func TestExecRecognizerBuildArgs(t *testing.T) {
	rec, err := NewExecRecognizer(config.STTConfig{Command: `engine --beam "5"`, ModelPath: "/models/zh", Language: "en-US"})
	require.NoError(t, err)

	session := NewSession("zh-CN")
	cfg := attachConfig(t, session, "ni hao")
	params, err := cfg.ToJSON()
	require.NoError(t, err)

	args := rec.(*execRecognizer).buildArgs(session, "/tmp/a.wav", true)
	require.Equal(t, []string{
		"--beam", "5",
		"--audio", "/tmp/a.wav",
		"--model", "/models/zh",
		"--language", "zh-CN",
		"--assessment-params", params,
	}, args)

	args = rec.(*execRecognizer).buildArgs(NewSessionWithID("s", ""), "/tmp/b.wav", false)
	require.Equal(t, []string{"--beam", "5", "--audio", "/tmp/b.wav", "--model", "/models/zh", "--language", "en-US", "--partial"}, args)
}

func TestWritePCMToWav(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.wav")
	f, err := os.Create(path)
	require.NoError(t, err)
	require.NoError(t, writePCMToWav(f, []byte{0x01, 0x00, 0xff, 0x7f}, 16000, 1))
	require.NoError(t, f.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	dec := wav.NewDecoder(bytes.NewReader(data))
	require.True(t, dec.IsValidFile())
	require.Equal(t, uint32(16000), dec.SampleRate)

	f2, err := os.Create(filepath.Join(t.TempDir(), "odd.wav"))
	require.NoError(t, err)
	defer f2.Close()
	require.Error(t, writePCMToWav(f2, []byte{0x01}, 16000, 1))
}

func TestExecRecognizerRunsCommand(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("shell script engine")
	}
	script := filepath.Join(t.TempDir(), "engine.sh")
	body := `#!/bin/sh
echo '{"text":"ni hao","confidence":0.9,"pronunciation_assessment":{"accuracyScore":88,"pronunciationScore":86,"completenessScore":100,"fluencyScore":80,"words":[{"text":"ni","accuracyScore":90,"phonemes":[{"symbol":"n","accuracyScore":91}]}]}}'
`
	require.NoError(t, os.WriteFile(script, []byte(body), 0o755))

	rec, err := NewExecRecognizer(config.STTConfig{Command: script})
	require.NoError(t, err)

	session := NewSession("zh-CN")
	attachConfig(t, session, "ni hao")

	result, err := rec.Recognize(context.Background(), session, make([]byte, 320), 16000, 1, true)
	require.NoError(t, err)
	require.Equal(t, "ni hao", result.Text)
	require.InDelta(t, 0.9, result.Confidence, 1e-9)

	scores, err := pronunciation.FromRecognitionResult(result)
	require.NoError(t, err)
	require.Equal(t, 88.0, scores.AccuracyScore)
	require.Len(t, scores.Words, 1)
	require.Equal(t, "n", scores.Words[0].Phonemes[0].Symbol)
}
