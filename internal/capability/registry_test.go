package capability

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/loqalabs/loqa-assess/internal/bus"
	"github.com/loqalabs/loqa-assess/internal/config"
	"github.com/loqalabs/loqa-assess/internal/natsserver"
	"github.com/loqalabs/loqa-assess/internal/pronunciation"
	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/require"
)

func newLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

func newOfflineRegistry(id string) *Registry {
	return &Registry{
		cfg:   config.NodeConfig{ID: id, Role: "assessor", HeartbeatInterval: 100, HeartbeatTimeout: 300},
		log:   newLogger(),
		nodes: make(map[string]*NodeInfo),
		now:   time.Now,
	}
}

func TestAssessmentCapabilityAttributes(t *testing.T) {
	stt := config.STTConfig{Mode: "mock", Language: "en-GB"}
	c := AssessmentCapability(stt, config.AssessmentConfig{Enabled: true, ScenarioID: "lesson"})
	require.Equal(t, NameAssessment, c.Name)
	require.Equal(t, "FivePoint,HundredMark", c.Attributes[attrGradingSystems])
	require.Equal(t, "Phoneme,Word,FullText", c.Attributes[attrGranularities])
	require.Equal(t, "mock", c.Attributes[attrRecognizer])
	require.Equal(t, "en-GB", c.Attributes[attrLanguage])
	require.Equal(t, "lesson", c.Attributes[attrScenario])

	c = AssessmentCapability(config.STTConfig{Mode: "exec"}, config.AssessmentConfig{ScenarioID: "ignored"})
	require.NotContains(t, c.Attributes, attrLanguage)
	require.NotContains(t, c.Attributes, attrScenario)
}

func TestQueryFilters(t *testing.T) {
	r := newOfflineRegistry("local")
	now := time.Now()
	r.updateNode("b", "assessor", []Capability{AssessmentCapability(config.STTConfig{Mode: "mock", Language: "en-US"}, config.AssessmentConfig{})}, now)
	r.updateNode("a", "assessor", []Capability{{Name: NameAssessment, Attributes: map[string]string{attrGranularities: "Word", attrLanguage: "de-DE"}}}, now)
	r.updateNode("c", "gateway", []Capability{{Name: "audio.ingest"}}, now)

	all := r.Query()
	require.Len(t, all, 3)
	require.Equal(t, "a", all[0].ID)

	assessors := r.Query(WithCapabilityFilter(NameAssessment))
	require.Len(t, assessors, 2)

	phoneme := r.Query(WithGranularityFilter(pronunciation.GranularityPhoneme))
	require.Len(t, phoneme, 1)
	require.Equal(t, "b", phoneme[0].ID)

	german := r.Query(WithLanguageFilter("DE-de"), WithGranularityFilter(pronunciation.GranularityWord))
	require.Len(t, german, 1)
	require.Equal(t, "a", german[0].ID)

	require.Len(t, r.Query(WithLanguageFilter("")), 3)
	require.Empty(t, r.Query(WithLanguageFilter("fr-FR")))
}

func TestHealthTracksHeartbeats(t *testing.T) {
	r := newOfflineRegistry("local")
	base := time.Date(2025, 5, 1, 10, 0, 0, 0, time.UTC)
	r.now = func() time.Time { return base }

	require.False(t, r.Healthy())
	r.updateNode("local", "assessor", nil, base)
	require.True(t, r.Healthy())

	data, err := json.Marshal(heartbeatMessage{Timestamp: base})
	require.NoError(t, err)
	r.handleHeartbeat(&nats.Msg{Subject: SubjectHeartbeatPrefix + ".remote", Data: data})
	require.Len(t, r.Query(HealthyOnly), 2)

	r.now = func() time.Time { return base.Add(time.Second) }
	r.evaluateHealth()
	require.False(t, r.Healthy())
	require.Empty(t, r.Query(HealthyOnly))
	total, healthy := r.snapshotCounts()
	require.EqualValues(t, 2, total)
	require.EqualValues(t, 0, healthy)

	r.handleAnnounce(&nats.Msg{Data: []byte(`{"role":"assessor"}`)})
	require.Len(t, r.Query(), 2)
}

func TestRegistriesDiscoverEachOther(t *testing.T) {
	log := newLogger()
	ns, err := natsserver.Start(config.BusConfig{Embedded: true, Host: "127.0.0.1", Port: -1}, log)
	require.NoError(t, err)
	t.Cleanup(ns.Shutdown)

	client, err := bus.Connect(context.Background(), config.BusConfig{Servers: []string{ns.ClientURL()}, ConnectTimeout: 2000}, log)
	require.NoError(t, err)
	t.Cleanup(client.Close)

	nodeCfg := func(id string) config.NodeConfig {
		return config.NodeConfig{ID: id, Role: "assessor", HeartbeatInterval: 50, HeartbeatTimeout: 1000}
	}
	local := []Capability{AssessmentCapability(config.STTConfig{Mode: "mock", Language: "en-US"}, config.AssessmentConfig{})}

	first, err := NewRegistry(context.Background(), nodeCfg("first"), local, client, log)
	require.NoError(t, err)
	t.Cleanup(first.Close)
	require.True(t, first.Healthy())

	second, err := NewRegistry(context.Background(), nodeCfg("second"), local, client, log)
	require.NoError(t, err)
	t.Cleanup(second.Close)

	require.Eventually(t, func() bool {
		return len(first.Query(WithCapabilityFilter(NameAssessment))) == 2
	}, 5*time.Second, 20*time.Millisecond)
	require.Eventually(t, func() bool {
		return len(second.Query(HealthyOnly)) == 2
	}, 5*time.Second, 20*time.Millisecond)
}
