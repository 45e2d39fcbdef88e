package runtime

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/loqalabs/loqa-assess/internal/capability"
	"github.com/loqalabs/loqa-assess/internal/config"
	"github.com/loqalabs/loqa-assess/internal/eventstore"
	"github.com/loqalabs/loqa-assess/internal/pronunciation"
	"github.com/loqalabs/loqa-assess/internal/protocol"
	"github.com/loqalabs/loqa-assess/internal/stt"
	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

func newLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

func testConfig(t *testing.T) config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.Bus.Host = "127.0.0.1"
	cfg.Bus.Port = -1
	cfg.Bus.StoreDir = ""
	cfg.EventStore.Path = filepath.Join(t.TempDir(), "events.db")
	return cfg
}

func do(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestHealthAndReadiness(t *testing.T) {
	r := New(config.Default(), newLogger())
	h := r.routes(nil)

	rec := do(t, h, http.MethodGet, "/healthz", "")
	require.Equal(t, http.StatusOK, rec.Code)

	rec = do(t, h, http.MethodGet, "/readyz", "")
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)

	r.ready.Store(true)
	rec = do(t, h, http.MethodGet, "/readyz", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "ready", rec.Body.String())
}

func TestAssessmentConfigEndpoint(t *testing.T) {
	h := New(config.Default(), newLogger()).routes(nil)

	rec := do(t, h, http.MethodPost, "/v1/assessment/config",
		`{"granularity":"Word","referenceText":"good morning","gradingSystem":"FivePoint","extra":true}`)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	require.JSONEq(t,
		`{"referenceText":"good morning","gradingSystem":"FivePoint","granularity":"Word","dimension":"Comprehensive"}`,
		rec.Body.String())

	for _, body := range []string{"", "invalid json", `{"referenceText":"x"}`, `{"referenceText":"x","gradingSystem":"TenPoint","granularity":"Word"}`} {
		rec := do(t, h, http.MethodPost, "/v1/assessment/config", body)
		require.Equal(t, http.StatusBadRequest, rec.Code, "body %q", body)
		require.Contains(t, rec.Body.String(), `"error"`)
	}

	rec = do(t, h, http.MethodGet, "/v1/assessment/config", "")
	require.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestAssessmentResultEndpoint(t *testing.T) {
	h := New(config.Default(), newLogger()).routes(nil)

	rec := do(t, h, http.MethodPost, "/v1/assessment/result", `{
		"text": "hello",
		"pronunciationAssessment": {
			"accuracyScore": 91, "pronunciationScore": 88, "completenessScore": 100, "fluencyScore": 85,
			"words": [{"text": "hello", "accuracyScore": 91, "phonemes": [{"symbol": "h", "accuracyScore": 95}]}]
		}
	}`)
	require.Equal(t, http.StatusOK, rec.Code)
	var result pronunciation.Result
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
	require.InDelta(t, 91, result.AccuracyScore, 1e-9)
	require.Len(t, result.Words, 1)
	require.True(t, result.HasPhonemeDetail())

	rec = do(t, h, http.MethodPost, "/v1/assessment/result", `{"text":"hello"}`)
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	rec = do(t, h, http.MethodPost, "/v1/assessment/result", `not json`)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, h, http.MethodPost, "/v1/assessment/result", `{"pronunciationAssessment":[1,2]}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSessionAssessmentsEndpoint(t *testing.T) {
	ctx := context.Background()
	r := New(config.Default(), newLogger())
	h := r.routes(nil)

	rec := do(t, h, http.MethodGet, "/v1/sessions/s1/assessments", "")
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	rec = do(t, h, http.MethodGet, "/v1/nodes", "")
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)

	store, err := eventstore.Open(ctx, config.EventStoreConfig{Path: filepath.Join(t.TempDir(), "events.db"), RetentionMode: "session"}, newLogger())
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	r.events = store

	payload, err := json.Marshal(protocol.AssessmentReport{SessionID: "s1", TraceID: "t1", Text: "hi"})
	require.NoError(t, err)
	require.NoError(t, store.AppendSession(ctx, "s1", "stt", "session"))
	require.NoError(t, store.AppendEvent(ctx, eventstore.Event{SessionID: "s1", Type: protocol.EventTypeAssessmentReport, Payload: payload}))
	require.NoError(t, store.AppendEvent(ctx, eventstore.Event{SessionID: "s1", Type: protocol.EventTypeAssessmentParamsError, Payload: []byte(`{}`)}))

	rec = do(t, h, http.MethodGet, "/v1/sessions/s1/assessments", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var reports []protocol.AssessmentReport
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &reports))
	require.Len(t, reports, 1)
	require.Equal(t, "t1", reports[0].TraceID)

	rec = do(t, h, http.MethodGet, "/v1/sessions/unknown/assessments", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, `[]`, rec.Body.String())
}

func TestComponentsAssessOverBus(t *testing.T) {
	cfg := testConfig(t)
	r := New(cfg, newLogger())
	require.NoError(t, r.startComponents(context.Background()))
	t.Cleanup(r.stop)
	r.ready.Store(true)
	require.True(t, r.isReady())

	reports := make(chan protocol.AssessmentReport, 1)
	sub, err := r.bus.Subscribe(protocol.SubjectAssessmentResult, func(msg *nats.Msg) {
		var report protocol.AssessmentReport
		if err := json.Unmarshal(msg.Data, &report); err == nil {
			reports <- report
		}
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = sub.Unsubscribe() })

	params, err := pronunciation.NewConfig("see you soon", pronunciation.WithGranularity(pronunciation.GranularityWord))
	require.NoError(t, err)
	canonical, err := params.ToJSON()
	require.NoError(t, err)

	require.NoError(t, r.bus.PublishJSON(protocol.SubjectAudioFramePrefix+".bus-session", protocol.AudioFrame{
		PCM:        make([]byte, 640),
		Final:      true,
		Assessment: json.RawMessage(canonical),
	}))
	require.NoError(t, r.bus.Flush())

	select {
	case report := <-reports:
		require.Equal(t, "bus-session", report.SessionID)
		require.Empty(t, report.Error)
		require.Equal(t, "Word", report.Granularity)
		require.NotNil(t, report.Result)
		require.Len(t, report.Result.Words, 3)
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for assessment report")
	}

	h := r.routes(nil)
	rec := do(t, h, http.MethodGet, "/v1/nodes?granularity=Phoneme&healthy=true", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var nodes []capability.NodeInfo
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &nodes))
	require.Len(t, nodes, 1)
	require.Equal(t, cfg.Node.ID, nodes[0].ID)

	rec = do(t, h, http.MethodGet, "/v1/nodes?granularity=Syllable", "")
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, h, http.MethodGet, "/v1/nodes?language=fr-FR", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, `[]`, rec.Body.String())

	require.Eventually(t, func() bool {
		events, err := r.events.ListSessionEventsByType(context.Background(), "bus-session", protocol.EventTypeAssessmentReport, 0)
		return err == nil && len(events) == 1
	}, 5*time.Second, 20*time.Millisecond)
}

func TestNewRecognizerModes(t *testing.T) {
	_, err := newRecognizer(config.STTConfig{Mode: "mock"})
	require.NoError(t, err)
	_, err = newRecognizer(config.STTConfig{Mode: "exec"})
	require.Error(t, err)
	_, err = newRecognizer(config.STTConfig{Mode: "grpc"})
	require.Error(t, err)
}

func TestSetupTelemetryServesMetrics(t *testing.T) {
	cfg := config.Default()
	shutdown, handler, err := setupTelemetry(cfg, newLogger())
	require.NoError(t, err)
	t.Cleanup(func() { _ = shutdown(context.Background()) })
	require.NotNil(t, handler)

	rec := do(t, handler, http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestAssessmentViewsShapeInstruments(t *testing.T) {
	ctx := context.Background()
	cfg := config.Default()
	res, err := newResource(ctx, cfg)
	require.NoError(t, err)

	reader := sdkmetric.NewManualReader()
	provider := newMeterProvider(res, reader)
	t.Cleanup(func() { _ = provider.Shutdown(ctx) })

	meter := provider.Meter("test")
	counter, err := meter.Int64Counter(stt.MetricAssessmentResults)
	require.NoError(t, err)
	histogram, err := meter.Float64Histogram(stt.MetricRecognitionDuration)
	require.NoError(t, err)

	attrs := metric.WithAttributes(
		stt.AttrOutcome.String("ok"),
		stt.AttrGranularity.String("Phoneme"),
		stt.AttrGradingSystem.String("HundredMark"),
		attribute.String("session_id", "s-1"),
	)
	counter.Add(ctx, 2, attrs)
	histogram.Record(ctx, 0.3, attrs)

	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(ctx, &rm))

	instance, ok := rm.Resource.Set().Value("service.instance.id")
	require.True(t, ok)
	require.Equal(t, cfg.Node.ID, instance.AsString())

	found := map[string]bool{}
	for _, scope := range rm.ScopeMetrics {
		for _, m := range scope.Metrics {
			switch data := m.Data.(type) {
			case metricdata.Sum[int64]:
				require.Equal(t, stt.MetricAssessmentResults, m.Name)
				require.Len(t, data.DataPoints, 1)
				require.EqualValues(t, 2, data.DataPoints[0].Value)
				_, leaked := data.DataPoints[0].Attributes.Value("session_id")
				require.False(t, leaked)
				outcome, _ := data.DataPoints[0].Attributes.Value(stt.AttrOutcome)
				require.Equal(t, "ok", outcome.AsString())
			case metricdata.Histogram[float64]:
				require.Equal(t, stt.MetricRecognitionDuration, m.Name)
				require.Equal(t, "s", m.Unit)
				require.Len(t, data.DataPoints, 1)
				require.Equal(t, recognitionBuckets, data.DataPoints[0].Bounds)
				_, leaked := data.DataPoints[0].Attributes.Value("session_id")
				require.False(t, leaked)
			}
			found[m.Name] = true
		}
	}
	require.True(t, found[stt.MetricAssessmentResults])
	require.True(t, found[stt.MetricRecognitionDuration])
}
