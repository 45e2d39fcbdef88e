package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/loqalabs/loqa-assess/internal/pronunciation"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Bus.Servers[0] != "nats://localhost:4222" {
		t.Fatalf("expected default server, got %v", cfg.Bus.Servers)
	}
	if cfg.Assessment.GradingSystem != "HundredMark" || cfg.Assessment.Granularity != "Phoneme" {
		t.Fatalf("unexpected assessment defaults: %+v", cfg.Assessment)
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("LOQA_BUS_SERVERS", "nats://one:4222, nats://two:4222")
	t.Setenv("LOQA_BUS_USERNAME", "alice")
	t.Setenv("LOQA_BUS_PASSWORD", "secret")
	t.Setenv("LOQA_BUS_TLS_INSECURE", "true")
	t.Setenv("LOQA_BUS_CONNECT_TIMEOUT_MS", "5000")
	t.Setenv("LOQA_EVENT_STORE_PATH", "./tmp.db")
	t.Setenv("LOQA_EVENT_STORE_RETENTION_MODE", "persistent")
	t.Setenv("LOQA_EVENT_STORE_RETENTION_DAYS", "7")
	t.Setenv("LOQA_EVENT_STORE_MAX_SESSIONS", "123")
	t.Setenv("LOQA_EVENT_STORE_VACUUM_ON_START", "true")
	t.Setenv("LOQA_ASSESSMENT_ENABLED", "true")
	t.Setenv("LOQA_ASSESSMENT_GRADING_SYSTEM", "FivePoint")
	t.Setenv("LOQA_ASSESSMENT_GRANULARITY", "Word")
	t.Setenv("LOQA_ASSESSMENT_ENABLE_MISCUE", "1")
	t.Setenv("LOQA_ASSESSMENT_SCENARIO_ID", "scenario")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(cfg.Bus.Servers) != 2 {
		t.Fatalf("expected 2 servers, got %v", cfg.Bus.Servers)
	}
	if cfg.Bus.Username != "alice" || cfg.Bus.Password != "secret" {
		t.Fatalf("expected credentials override")
	}
	if !cfg.Bus.TLSInsecure {
		t.Fatal("expected tls insecure override true")
	}
	if cfg.Bus.ConnectTimeout != 5000 {
		t.Fatalf("expected timeout 5000, got %d", cfg.Bus.ConnectTimeout)
	}
	if cfg.EventStore.Path != "./tmp.db" {
		t.Fatalf("expected event store path override")
	}
	if cfg.EventStore.RetentionMode != "persistent" {
		t.Fatalf("expected event store retention mode override")
	}
	if cfg.EventStore.RetentionDays != 7 {
		t.Fatalf("expected event store retention days override")
	}
	if cfg.EventStore.MaxSessions != 123 {
		t.Fatalf("expected event store max sessions override")
	}
	if !cfg.EventStore.VacuumOnStart {
		t.Fatalf("expected event store vacuum flag override")
	}

	assessment, err := cfg.Assessment.Build()
	if err != nil {
		t.Fatalf("build assessment: %v", err)
	}
	if assessment.GradingSystem() != pronunciation.GradingFivePoint {
		t.Fatalf("expected FivePoint, got %s", assessment.GradingSystem())
	}
	if assessment.Granularity() != pronunciation.GranularityWord {
		t.Fatalf("expected Word, got %s", assessment.Granularity())
	}
	if !assessment.MiscueEnabled() || assessment.ScenarioID() != "scenario" {
		t.Fatalf("expected miscue and scenario overrides, got %+v", cfg.Assessment)
	}
}

func TestLoadYAMLFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "loqa.yaml")
	content := `
runtime_name: assess-test
stt:
  mode: mock
  language: zh-CN
assessment:
  enabled: true
  reference_text: "good morning"
  granularity: FullText
`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.RuntimeName != "assess-test" || cfg.STT.Language != "zh-CN" {
		t.Fatalf("yaml values not applied: %+v", cfg)
	}
	if cfg.Assessment.GradingSystem != "HundredMark" {
		t.Fatalf("expected default grading system to survive partial yaml, got %q", cfg.Assessment.GradingSystem)
	}
	if cfg.Assessment.ReferenceText != "good morning" {
		t.Fatalf("expected reference text, got %q", cfg.Assessment.ReferenceText)
	}
}

func TestValidateRejectsUnknownAssessmentOptions(t *testing.T) {
	t.Setenv("LOQA_ASSESSMENT_GRANULARITY", "Syllable")

	_, err := Load("")
	if err == nil {
		t.Fatal("expected validation error")
	}
	if !errors.Is(err, pronunciation.ErrInvalidArgument) {
		t.Fatalf("expected invalid argument, got %v", err)
	}
}

func TestValidateRejectsExecWithoutCommand(t *testing.T) {
	t.Setenv("LOQA_STT_MODE", "exec")

	if _, err := Load(""); err == nil {
		t.Fatal("expected error for exec mode without command")
	}
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	if err == nil || !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("expected not-exist error, got %v", err)
	}
}

func TestNodeOverridesAndValidation(t *testing.T) {
	t.Setenv("LOQA_NODE_ID", "assess-eu-1")
	t.Setenv("LOQA_NODE_HEARTBEAT_INTERVAL_MS", "500")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Node.ID != "assess-eu-1" || cfg.Node.HeartbeatInterval != 500 {
		t.Fatalf("node overrides not applied: %+v", cfg.Node)
	}

	t.Setenv("LOQA_NODE_HEARTBEAT_TIMEOUT_MS", "100")
	if _, err := Load(""); err == nil {
		t.Fatal("expected error for heartbeat timeout shorter than interval")
	}
}
