package stt

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/loqalabs/loqa-assess/internal/pronunciation"
)

// ErrUnknownProperty is returned for a PropertyID outside the known table.
var ErrUnknownProperty = errors.New("unknown property id")

// PropertyID identifies a well-known recognizer property.
type PropertyID int

const (
	PropertySessionID PropertyID = iota + 1
	PropertyRecognitionLanguage
	PropertyJSONResult
	PropertyJSONErrorDetails
	PropertyPronunciationAssessmentParams
	PropertyCancellationReason
	PropertyCancellationReasonText
)

var propertyNames = map[PropertyID]string{
	PropertySessionID:                     "SessionId",
	PropertyRecognitionLanguage:           "SPEECH-RecoLanguage",
	PropertyJSONResult:                    "RESULT-Json",
	PropertyJSONErrorDetails:              "RESULT-ErrorDetails",
	PropertyPronunciationAssessmentParams: pronunciation.ParamsPropertyName,
	PropertyCancellationReason:            "CancellationDetails_Reason",
	PropertyCancellationReasonText:        "CancellationDetails_ReasonText",
}

// Name returns the property-bag key for id.
func (id PropertyID) Name() (string, error) {
	name, ok := propertyNames[id]
	if !ok {
		return "", fmt.Errorf("%w: %d", ErrUnknownProperty, int(id))
	}
	return name, nil
}

func (id PropertyID) String() string {
	if name, ok := propertyNames[id]; ok {
		return name
	}
	return fmt.Sprintf("PropertyID(%d)", int(id))
}

// Properties is a string-keyed property bag safe for concurrent use.
type Properties struct {
	mu     sync.RWMutex
	values map[string]string
}

func NewProperties() *Properties {
	return &Properties{values: make(map[string]string)}
}

// Set stores value under the name of id.
func (p *Properties) Set(id PropertyID, value string) error {
	name, err := id.Name()
	if err != nil {
		return err
	}
	p.SetByName(name, value)
	return nil
}

// Get returns the value of id, or def when unset or unknown.
func (p *Properties) Get(id PropertyID, def string) string {
	if value, ok := p.Lookup(id); ok {
		return value
	}
	return def
}

func (p *Properties) Lookup(id PropertyID) (string, bool) {
	name, err := id.Name()
	if err != nil {
		return "", false
	}
	return p.LookupByName(name)
}

func (p *Properties) SetByName(name, value string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.values == nil {
		p.values = make(map[string]string)
	}
	p.values[name] = value
}

func (p *Properties) GetByName(name, def string) string {
	if value, ok := p.LookupByName(name); ok {
		return value
	}
	return def
}

func (p *Properties) LookupByName(name string) (string, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	value, ok := p.values[name]
	return value, ok
}

// Names lists the keys currently set, sorted.
func (p *Properties) Names() []string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	names := make([]string, 0, len(p.values))
	for name := range p.values {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Clone returns an independent copy.
func (p *Properties) Clone() *Properties {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := NewProperties()
	for k, v := range p.values {
		out.values[k] = v
	}
	return out
}
