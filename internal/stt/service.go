package stt

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/loqalabs/loqa-assess/internal/bus"
	"github.com/loqalabs/loqa-assess/internal/config"
	"github.com/loqalabs/loqa-assess/internal/eventstore"
	"github.com/loqalabs/loqa-assess/internal/pronunciation"
	"github.com/loqalabs/loqa-assess/internal/protocol"
	"github.com/nats-io/nats.go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Publisher sends bus messages; *bus.Client satisfies it.
type Publisher interface {
	PublishJSON(subject string, v any) error
}

// EventRecorder persists assessment timeline entries; *eventstore.Store
// satisfies it.
type EventRecorder interface {
	AppendSession(ctx context.Context, sessionID, actorID, privacy string) error
	AppendEvent(ctx context.Context, evt eventstore.Event) error
}

type Service struct {
	cfg        config.STTConfig
	bus        *bus.Client
	publisher  Publisher
	recognizer Recognizer
	events     EventRecorder
	defaults   *pronunciation.Config
	log        *slog.Logger
	sessions   map[string]*sessionState
	pending    map[string]pendingParams
	maxPending int
	pendingTTL time.Duration
	now        func() time.Time
	mu         sync.Mutex
	ctx        context.Context
	cancel     context.CancelFunc
	subs       []*nats.Subscription
	wg         sync.WaitGroup
	ready      bool
	assessed   metric.Int64Counter
	latency    metric.Float64Histogram
}

// Instrument names and attribute keys of the assessment metrics.
const (
	MetricAssessmentResults   = "loqa.assessment.results"
	MetricRecognitionDuration = "loqa.assessment.recognition.duration"

	AttrOutcome       = attribute.Key("outcome")
	AttrGranularity   = attribute.Key("granularity")
	AttrGradingSystem = attribute.Key("grading_system")
)

type sessionState struct {
	session *Session
	buffer  []byte
}

// pendingParams holds parameters for a session whose first frame has not
// arrived yet.
type pendingParams struct {
	cfg      *pronunciation.Config
	received time.Time
}

const (
	defaultMaxPendingParams = 1024
	defaultPendingTTL       = 2 * time.Minute
)

// Option configures optional Service collaborators.
type Option func(*Service)

// WithEventRecorder stores every assessment report in rec.
func WithEventRecorder(rec EventRecorder) Option {
	return func(s *Service) { s.events = rec }
}

// WithDefaultAssessment attaches cfg to every new session. Sessions can still
// override it with their own parameters.
func WithDefaultAssessment(cfg *pronunciation.Config) Option {
	return func(s *Service) { s.defaults = cfg }
}

func NewService(parent context.Context, cfg config.STTConfig, busClient *bus.Client, recognizer Recognizer, log *slog.Logger, opts ...Option) *Service {
	ctx, cancel := context.WithCancel(parent)
	s := &Service{
		cfg:        cfg,
		bus:        busClient,
		recognizer: recognizer,
		log:        log.With(slog.String("component", "stt")),
		sessions:   make(map[string]*sessionState),
		pending:    make(map[string]pendingParams),
		maxPending: defaultMaxPendingParams,
		pendingTTL: defaultPendingTTL,
		now:        time.Now,
		ctx:        ctx,
		cancel:     cancel,
	}
	if busClient != nil {
		s.publisher = busClient
	}
	for _, opt := range opts {
		opt(s)
	}

	meter := otel.Meter("github.com/loqalabs/loqa-assess/stt")
	counter, err := meter.Int64Counter(MetricAssessmentResults,
		metric.WithDescription("Pronunciation assessments by decode outcome"))
	if err != nil {
		s.log.Warn("failed to initialize metrics", slogError(err))
	} else {
		s.assessed = counter
	}
	histogram, err := meter.Float64Histogram(MetricRecognitionDuration,
		metric.WithDescription("Time spent in the recognizer for assessed utterances"),
		metric.WithUnit("s"))
	if err != nil {
		s.log.Warn("failed to initialize metrics", slogError(err))
	} else {
		s.latency = histogram
	}
	return s
}

func (s *Service) Start() error {
	if !s.cfg.Enabled {
		return nil
	}
	if s.bus == nil {
		return errors.New("stt service requires a bus client")
	}
	frames, err := s.bus.Subscribe(protocol.SubjectAudioFramePrefix+".>", s.handleFrame)
	if err != nil {
		return fmt.Errorf("subscribe audio frames: %w", err)
	}
	s.subs = append(s.subs, frames)

	params, err := s.bus.Subscribe(protocol.SubjectAssessmentParamsPrefix+".*", s.handleParams)
	if err != nil {
		_ = frames.Drain()
		return fmt.Errorf("subscribe assessment params: %w", err)
	}
	s.subs = append(s.subs, params)

	s.ready = true
	return nil
}

func (s *Service) Close() {
	s.cancel()
	for _, sub := range s.subs {
		_ = sub.Drain()
	}
	s.wg.Wait()
}

func (s *Service) Healthy() bool {
	return !s.cfg.Enabled || s.ready
}

func (s *Service) handleFrame(msg *nats.Msg) {
	var frame protocol.AudioFrame
	if err := json.Unmarshal(msg.Data, &frame); err != nil {
		s.log.Warn("failed to decode audio frame", slogError(err))
		return
	}
	if frame.SessionID == "" {
		frame.SessionID = strings.TrimPrefix(msg.Subject, protocol.SubjectAudioFramePrefix+".")
	}
	s.ingestFrame(frame)
}

func (s *Service) handleParams(msg *nats.Msg) {
	var req protocol.AssessmentRequest
	if err := json.Unmarshal(msg.Data, &req); err != nil {
		s.log.Warn("failed to decode assessment request", slogError(err))
		return
	}
	if req.SessionID == "" {
		req.SessionID = strings.TrimPrefix(msg.Subject, protocol.SubjectAssessmentParamsPrefix+".")
	}
	_ = s.AttachParams(req.SessionID, req.Params)
}

func (s *Service) ingestFrame(frame protocol.AudioFrame) {
	var inline *pronunciation.Config
	if len(frame.Assessment) > 0 {
		cfg, err := s.parseParams(frame.SessionID, frame.Assessment)
		if err == nil {
			inline = cfg
		}
	}

	s.mu.Lock()
	state := s.stateLocked(frame.SessionID)
	state.buffer = append(state.buffer, frame.PCM...)
	var pcm []byte
	if frame.Final {
		pcm = append([]byte(nil), state.buffer...)
		delete(s.sessions, frame.SessionID)
	}
	s.mu.Unlock()

	if inline != nil {
		if err := inline.AttachTo(state.session); err != nil {
			s.log.Warn("failed to attach frame assessment", slogError(err))
		}
	}

	if frame.Final {
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.finalize(state.session, pcm)
		}()
	}
}

// stateLocked returns the session state for id, creating it when needed.
// A new session takes its pending parameters, else the service defaults.
// Callers hold s.mu.
func (s *Service) stateLocked(id string) *sessionState {
	state := s.sessions[id]
	if state != nil {
		return state
	}
	session := NewSessionWithID(id, s.cfg.Language)
	cfg := s.defaults
	if p, ok := s.pending[id]; ok {
		delete(s.pending, id)
		if s.now().Sub(p.received) <= s.pendingTTL {
			cfg = p.cfg
		}
	}
	if cfg != nil {
		if err := cfg.AttachTo(session); err != nil {
			s.log.Warn("failed to attach assessment parameters", slogError(err))
		}
	}
	state = &sessionState{session: session}
	s.sessions[id] = state
	return state
}

// AttachParams validates canonical assessment parameters and attaches them to
// the session. Parameters for a session without frames are held until its
// first frame, for at most the pending TTL; the oldest are evicted once the
// pending set is full. Rejected parameters are reported on the bus.
func (s *Service) AttachParams(sessionID string, params json.RawMessage) error {
	cfg, err := s.parseParams(sessionID, params)
	if err != nil {
		return err
	}

	s.mu.Lock()
	state, ok := s.sessions[sessionID]
	if !ok {
		s.holdLocked(sessionID, cfg)
	}
	s.mu.Unlock()

	if ok {
		return cfg.AttachTo(state.session)
	}
	return nil
}

// holdLocked stores cfg as pending for id. Callers hold s.mu.
func (s *Service) holdLocked(id string, cfg *pronunciation.Config) {
	now := s.now()
	for pid, p := range s.pending {
		if now.Sub(p.received) > s.pendingTTL {
			delete(s.pending, pid)
		}
	}
	if _, replacing := s.pending[id]; !replacing {
		for len(s.pending) >= s.maxPending && len(s.pending) > 0 {
			oldest, oldestAt := "", now
			for pid, p := range s.pending {
				if oldest == "" || p.received.Before(oldestAt) {
					oldest, oldestAt = pid, p.received
				}
			}
			delete(s.pending, oldest)
		}
	}
	s.pending[id] = pendingParams{cfg: cfg, received: now}
}

// parseParams decodes params, reporting rejected ones for sessionID.
func (s *Service) parseParams(sessionID string, params json.RawMessage) (*pronunciation.Config, error) {
	cfg, err := pronunciation.ConfigFromJSON(string(params))
	if err == nil {
		return cfg, nil
	}
	s.log.Warn("rejected assessment parameters",
		slog.String("session_id", sessionID), slogError(err))
	report := protocol.AssessmentReport{
		SessionID: sessionID,
		TraceID:   uuid.NewString(),
		Error:     err.Error(),
		Timestamp: time.Now().UTC(),
	}
	s.publish(protocol.SubjectAssessmentResult, report)
	s.record(s.ctx, protocol.EventTypeAssessmentParamsError, report)
	return nil, err
}

func (s *Service) finalize(session *Session, pcm []byte) {
	ctx, cancel := context.WithTimeout(s.ctx, s.timeout())
	defer cancel()

	result, report, err := s.Recognize(ctx, session, pcm)
	if err != nil {
		s.log.Warn("stt recognition failed", slog.String("session_id", session.ID()), slogError(err))
	} else {
		s.publishTranscript(session.ID(), result.Text, result.Confidence)
	}
	if report != nil {
		s.publish(protocol.SubjectAssessmentResult, report)
		s.record(ctx, protocol.EventTypeAssessmentReport, *report)
	}
}

// Recognize runs the recognizer on a complete utterance. When the session
// carries assessment parameters the returned report holds the decoded scores
// or the decode error; otherwise the report is nil.
func (s *Service) Recognize(ctx context.Context, session *Session, pcm []byte) (RecognitionResult, *protocol.AssessmentReport, error) {
	_, assessing := session.AssessmentParameters()

	started := time.Now()
	result, err := s.recognizer.Recognize(ctx, session, pcm, s.cfg.SampleRate, s.cfg.Channels, true)
	elapsed := time.Since(started)
	if err != nil {
		if !assessing {
			return RecognitionResult{}, nil, err
		}
		report := s.newReport(session, "")
		report.Error = err.Error()
		s.observe(ctx, report, "recognition_error", elapsed)
		return RecognitionResult{}, report, err
	}
	if !assessing {
		return result, nil, nil
	}

	report := s.newReport(session, result.Text)
	scores, err := pronunciation.FromRecognitionResult(result)
	outcome := "ok"
	switch {
	case err == nil:
		report.Result = scores
	case errors.Is(err, pronunciation.ErrMissingPayload):
		outcome = "missing_payload"
	case errors.Is(err, pronunciation.ErrMalformedInput):
		outcome = "malformed_payload"
	default:
		outcome = "error"
	}
	if err != nil {
		report.Error = err.Error()
	}
	s.observe(ctx, report, outcome, elapsed)
	return result, report, nil
}

func (s *Service) newReport(session *Session, text string) *protocol.AssessmentReport {
	report := &protocol.AssessmentReport{
		SessionID: session.ID(),
		TraceID:   uuid.NewString(),
		Text:      text,
		Timestamp: time.Now().UTC(),
	}
	if cfg, err := session.AssessmentConfig(); err == nil {
		report.GradingSystem = cfg.GradingSystem().String()
		report.Granularity = cfg.Granularity().String()
		report.ScenarioID = cfg.ScenarioID()
	}
	return report
}

func (s *Service) timeout() time.Duration {
	if s.cfg.TimeoutMS > 0 {
		return time.Duration(s.cfg.TimeoutMS) * time.Millisecond
	}
	return 45 * time.Second
}

// observe records the outcome and recognizer latency of one assessment.
func (s *Service) observe(ctx context.Context, report *protocol.AssessmentReport, outcome string, elapsed time.Duration) {
	attrs := metric.WithAttributes(
		AttrOutcome.String(outcome),
		AttrGranularity.String(report.Granularity),
		AttrGradingSystem.String(report.GradingSystem),
	)
	if s.assessed != nil {
		s.assessed.Add(ctx, 1, attrs)
	}
	if s.latency != nil {
		s.latency.Record(ctx, elapsed.Seconds(), attrs)
	}
}

func (s *Service) publishTranscript(sessionID, text string, confidence float64) {
	if text == "" {
		return
	}
	s.publish(protocol.SubjectTranscriptFinal, protocol.Transcript{
		SessionID:  sessionID,
		Text:       text,
		Partial:    false,
		Timestamp:  time.Now().UTC(),
		Confidence: confidence,
	})
}

func (s *Service) publish(subject string, v any) {
	if s.publisher == nil {
		return
	}
	if err := s.publisher.PublishJSON(subject, v); err != nil {
		s.log.Warn("failed to publish", slog.String("subject", subject), slogError(err))
	}
}

func (s *Service) record(ctx context.Context, eventType string, report protocol.AssessmentReport) {
	if s.events == nil {
		return
	}
	payload, err := json.Marshal(report)
	if err != nil {
		s.log.Warn("failed to marshal assessment event", slogError(err))
		return
	}
	if err := s.events.AppendSession(ctx, report.SessionID, "stt", "session"); err != nil {
		s.log.Warn("failed to record session", slogError(err))
		return
	}
	err = s.events.AppendEvent(ctx, eventstore.Event{
		SessionID: report.SessionID,
		TraceID:   report.TraceID,
		ActorID:   "stt",
		Type:      eventType,
		Payload:   payload,
		Privacy:   "session",
	})
	if err != nil {
		s.log.Warn("failed to record assessment event", slogError(err))
	}
}

func slogError(err error) slog.Attr {
	return slog.String("error", err.Error())
}
