package capability

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/loqalabs/loqa-assess/internal/config"
	"github.com/loqalabs/loqa-assess/internal/pronunciation"
	"github.com/nats-io/nats.go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

const (
	SubjectAnnounce        = "assessment.node.announce"
	SubjectHeartbeatPrefix = "assessment.node.heartbeat"

	// NameAssessment is the capability every assessment node advertises.
	NameAssessment = "pronunciation.assessment"

	attrGradingSystems = "grading_systems"
	attrGranularities  = "granularities"
	attrLanguage       = "language"
	attrRecognizer     = "recognizer"
	attrScenario       = "default_scenario"
)

type Capability struct {
	Name       string            `json:"name"`
	Attributes map[string]string `json:"attributes,omitempty"`
}

type NodeInfo struct {
	ID           string       `json:"id"`
	Role         string       `json:"role"`
	Capabilities []Capability `json:"capabilities"`
	LastSeen     time.Time    `json:"last_seen"`
	Healthy      bool         `json:"healthy"`
}

type announceMessage struct {
	NodeID       string       `json:"node_id"`
	Role         string       `json:"role"`
	Capabilities []Capability `json:"capabilities"`
	Timestamp    time.Time    `json:"timestamp"`
}

type heartbeatMessage struct {
	NodeID    string    `json:"node_id"`
	Timestamp time.Time `json:"timestamp"`
}

// Bus is the subset of the bus client the registry needs.
type Bus interface {
	PublishJSON(subject string, v any) error
	Subscribe(subject string, handler nats.MsgHandler) (*nats.Subscription, error)
}

// Registry announces the local node's assessment capability and tracks the
// other nodes seen on the bus.
type Registry struct {
	cfg    config.NodeConfig
	local  []Capability
	log    *slog.Logger
	bus    Bus
	mu     sync.RWMutex
	nodes  map[string]*NodeInfo
	cancel context.CancelFunc
	subs   []*nats.Subscription
	wg     sync.WaitGroup
	now    func() time.Time
}

func NewRegistry(ctx context.Context, cfg config.NodeConfig, local []Capability, busClient Bus, log *slog.Logger) (*Registry, error) {
	ctx, cancel := context.WithCancel(ctx)
	r := &Registry{
		cfg:    cfg,
		local:  local,
		log:    log.With(slog.String("component", "capability-registry")),
		bus:    busClient,
		nodes:  make(map[string]*NodeInfo),
		cancel: cancel,
		now:    time.Now,
	}

	if err := r.initMetrics(); err != nil {
		r.log.Warn("failed to initialize metrics", slog.String("error", err.Error()))
	}

	if err := r.subscribe(); err != nil {
		r.Close()
		return nil, err
	}

	r.wg.Add(1)
	go r.run(ctx)

	if err := r.announce(); err != nil {
		r.log.Warn("failed to announce node", slog.String("error", err.Error()))
	}
	return r, nil
}

func (r *Registry) Close() {
	r.cancel()
	for _, sub := range r.subs {
		_ = sub.Drain()
	}
	r.wg.Wait()
}

func (r *Registry) subscribe() error {
	announceSub, err := r.bus.Subscribe(SubjectAnnounce, r.handleAnnounce)
	if err != nil {
		return fmt.Errorf("subscribe announce: %w", err)
	}
	r.subs = append(r.subs, announceSub)

	heartbeatSub, err := r.bus.Subscribe(SubjectHeartbeatPrefix+".*", r.handleHeartbeat)
	if err != nil {
		return fmt.Errorf("subscribe heartbeat: %w", err)
	}
	r.subs = append(r.subs, heartbeatSub)
	return nil
}

// run publishes heartbeats and marks silent nodes unhealthy until ctx ends.
func (r *Registry) run(ctx context.Context) {
	defer r.wg.Done()
	heartbeat := time.NewTicker(time.Duration(r.cfg.HeartbeatInterval) * time.Millisecond)
	defer heartbeat.Stop()
	health := time.NewTicker(time.Second)
	defer health.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-heartbeat.C:
			msg := heartbeatMessage{NodeID: r.cfg.ID, Timestamp: r.now().UTC()}
			if err := r.bus.PublishJSON(SubjectHeartbeatPrefix+"."+r.cfg.ID, msg); err != nil {
				r.log.Warn("failed to publish heartbeat", slog.String("error", err.Error()))
			}
		case <-health.C:
			r.evaluateHealth()
		}
	}
}

func (r *Registry) announce() error {
	msg := announceMessage{
		NodeID:       r.cfg.ID,
		Role:         r.cfg.Role,
		Capabilities: r.local,
		Timestamp:    r.now().UTC(),
	}
	r.updateNode(msg.NodeID, msg.Role, msg.Capabilities, msg.Timestamp)
	return r.bus.PublishJSON(SubjectAnnounce, msg)
}

func (r *Registry) handleAnnounce(msg *nats.Msg) {
	var announcement announceMessage
	if err := json.Unmarshal(msg.Data, &announcement); err != nil || announcement.NodeID == "" {
		r.log.Warn("invalid announce message")
		return
	}
	if announcement.Timestamp.IsZero() {
		announcement.Timestamp = r.now().UTC()
	}
	r.updateNode(announcement.NodeID, announcement.Role, announcement.Capabilities, announcement.Timestamp)
}

func (r *Registry) handleHeartbeat(msg *nats.Msg) {
	var hb heartbeatMessage
	if err := json.Unmarshal(msg.Data, &hb); err != nil {
		r.log.Warn("invalid heartbeat message", slog.String("error", err.Error()))
		return
	}
	if hb.NodeID == "" {
		hb.NodeID = strings.TrimPrefix(msg.Subject, SubjectHeartbeatPrefix+".")
	}
	if hb.Timestamp.IsZero() {
		hb.Timestamp = r.now().UTC()
	}
	r.updateNode(hb.NodeID, "", nil, hb.Timestamp)
}

func (r *Registry) updateNode(nodeID, role string, capabilities []Capability, seen time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()

	node, ok := r.nodes[nodeID]
	if !ok {
		node = &NodeInfo{ID: nodeID}
		r.nodes[nodeID] = node
	}
	if role != "" {
		node.Role = role
	}
	if len(capabilities) > 0 {
		node.Capabilities = capabilities
	}
	node.LastSeen = seen
	node.Healthy = true
}

func (r *Registry) evaluateHealth() {
	r.mu.Lock()
	defer r.mu.Unlock()

	timeout := time.Duration(r.cfg.HeartbeatTimeout) * time.Millisecond
	now := r.now()
	for _, node := range r.nodes {
		if now.Sub(node.LastSeen) > timeout {
			node.Healthy = false
		}
	}
}

// Healthy reports whether the local node has heard its own announcement.
func (r *Registry) Healthy() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	node, ok := r.nodes[r.cfg.ID]
	return ok && node.Healthy
}

// Query returns the known nodes accepted by every filter, sorted by id.
func (r *Registry) Query(filters ...func(NodeInfo) bool) []NodeInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()

	results := []NodeInfo{}
next:
	for _, node := range r.nodes {
		info := *node
		for _, filter := range filters {
			if filter != nil && !filter(info) {
				continue next
			}
		}
		results = append(results, info)
	}
	sort.Slice(results, func(i, j int) bool { return results[i].ID < results[j].ID })
	return results
}

func (r *Registry) initMetrics() error {
	meter := otel.Meter("github.com/loqalabs/loqa-assess/capability")
	nodes, err := meter.Int64ObservableGauge("loqa.assessment.nodes", metric.WithDescription("Assessment nodes seen on the bus"))
	if err != nil {
		return err
	}
	healthy, err := meter.Int64ObservableGauge("loqa.assessment.nodes.healthy", metric.WithDescription("Assessment nodes with a recent heartbeat"))
	if err != nil {
		return err
	}
	_, err = meter.RegisterCallback(func(_ context.Context, obs metric.Observer) error {
		total, up := r.snapshotCounts()
		obs.ObserveInt64(nodes, total)
		obs.ObserveInt64(healthy, up)
		return nil
	}, nodes, healthy)
	return err
}

func (r *Registry) snapshotCounts() (total, healthy int64) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, node := range r.nodes {
		total++
		if node.Healthy {
			healthy++
		}
	}
	return total, healthy
}

// AssessmentCapability describes what this runtime can score. Every grading
// system and granularity is supported; language and recognizer come from the
// STT section.
func AssessmentCapability(stt config.STTConfig, defaults config.AssessmentConfig) Capability {
	attrs := map[string]string{
		attrGradingSystems: strings.Join(pronunciation.GradingSystemNames(), ","),
		attrGranularities:  strings.Join(pronunciation.GranularityNames(), ","),
		attrRecognizer:     stt.Mode,
	}
	if stt.Language != "" {
		attrs[attrLanguage] = stt.Language
	}
	if defaults.Enabled && defaults.ScenarioID != "" {
		attrs[attrScenario] = defaults.ScenarioID
	}
	return Capability{Name: NameAssessment, Attributes: attrs}
}

func WithCapabilityFilter(name string) func(NodeInfo) bool {
	return func(node NodeInfo) bool {
		_, ok := node.capability(name)
		return ok
	}
}

// WithGranularityFilter keeps nodes whose assessment capability lists g.
func WithGranularityFilter(g pronunciation.Granularity) func(NodeInfo) bool {
	return func(node NodeInfo) bool {
		c, ok := node.capability(NameAssessment)
		return ok && listContains(c.Attributes[attrGranularities], g.String())
	}
}

// WithLanguageFilter keeps nodes recognizing language; an empty language
// matches every node.
func WithLanguageFilter(language string) func(NodeInfo) bool {
	return func(node NodeInfo) bool {
		if language == "" {
			return true
		}
		c, ok := node.capability(NameAssessment)
		return ok && strings.EqualFold(c.Attributes[attrLanguage], language)
	}
}

func HealthyOnly(node NodeInfo) bool { return node.Healthy }

func (n NodeInfo) capability(name string) (Capability, bool) {
	for _, c := range n.Capabilities {
		if c.Name == name {
			return c, true
		}
	}
	return Capability{}, false
}

func listContains(list, item string) bool {
	for _, v := range strings.Split(list, ",") {
		if v == item {
			return true
		}
	}
	return false
}
