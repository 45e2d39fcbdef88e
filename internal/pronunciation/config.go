// Package pronunciation encodes pronunciation-assessment requests and decodes
// the scores a recognizer returns for them.
package pronunciation

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

// Config is a validated pronunciation-assessment request.
//
// Fields are only reachable through NewConfig, ConfigFromJSON and the setters,
// so a Config obtained from them always holds valid enumeration members.
type Config struct {
	referenceText string
	gradingSystem GradingSystem
	granularity   Granularity
	dimension     Dimension
	enableMiscue  bool
	scenarioID    string
}

// Option customizes a Config at construction time.
type Option func(*Config)

// WithGradingSystem overrides the default HundredMark scale.
func WithGradingSystem(g GradingSystem) Option {
	return func(c *Config) { c.gradingSystem = g }
}

// WithGranularity overrides the default Phoneme granularity.
func WithGranularity(g Granularity) Option {
	return func(c *Config) { c.granularity = g }
}

// WithMiscue requests omission/insertion/mispronunciation tagging.
func WithMiscue(enable bool) Option {
	return func(c *Config) { c.enableMiscue = enable }
}

// WithScenarioID sets the opaque correlation id passed through to the service.
func WithScenarioID(id string) Option {
	return func(c *Config) { c.scenarioID = id }
}

// NewConfig builds a Config and fails with ErrInvalidArgument when the grading
// system or granularity is not a member of its enumeration.
func NewConfig(referenceText string, opts ...Option) (*Config, error) {
	c := &Config{
		referenceText: referenceText,
		gradingSystem: GradingHundredMark,
		granularity:   GranularityPhoneme,
		dimension:     DimensionComprehensive,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	if err := c.validate(); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Config) validate() error {
	if !c.gradingSystem.Valid() {
		return &InvalidArgumentError{Field: "gradingSystem", Value: int(c.gradingSystem)}
	}
	if !c.granularity.Valid() {
		return &InvalidArgumentError{Field: "granularity", Value: int(c.granularity)}
	}
	if !c.dimension.Valid() {
		return &InvalidArgumentError{Field: "dimension", Value: int(c.dimension)}
	}
	return nil
}

func (c *Config) ReferenceText() string        { return c.referenceText }
func (c *Config) GradingSystem() GradingSystem { return c.gradingSystem }
func (c *Config) Granularity() Granularity     { return c.granularity }
func (c *Config) Dimension() Dimension         { return c.dimension }
func (c *Config) MiscueEnabled() bool          { return c.enableMiscue }
func (c *Config) ScenarioID() string           { return c.scenarioID }

// SetReferenceText replaces the reference text. Any string is accepted.
func (c *Config) SetReferenceText(text string) {
	c.referenceText = text
}

// Equal reports whether both configs carry the same field values.
func (c *Config) Equal(other *Config) bool {
	if c == nil || other == nil {
		return c == other
	}
	return *c == *other
}

// canonicalConfig is the wire form. Field order fixes the key order of the
// serialized object.
type canonicalConfig struct {
	ReferenceText string        `json:"referenceText"`
	GradingSystem GradingSystem `json:"gradingSystem"`
	Granularity   Granularity   `json:"granularity"`
	Dimension     Dimension     `json:"dimension"`
	EnableMiscue  bool          `json:"enableMiscue,omitempty"`
	ScenarioID    string        `json:"scenarioId,omitempty"`
}

// MarshalJSON emits the canonical object. enableMiscue is present only when
// true and scenarioId only when non-empty.
func (c *Config) MarshalJSON() ([]byte, error) {
	if err := c.validate(); err != nil {
		return nil, err
	}
	return json.Marshal(canonicalConfig{
		ReferenceText: c.referenceText,
		GradingSystem: c.gradingSystem,
		Granularity:   c.granularity,
		Dimension:     c.dimension,
		EnableMiscue:  c.enableMiscue,
		ScenarioID:    c.scenarioID,
	})
}

// UnmarshalJSON accepts the canonical object; see ConfigFromJSON.
func (c *Config) UnmarshalJSON(data []byte) error {
	decoded, err := decodeConfig(data)
	if err != nil {
		return err
	}
	*c = *decoded
	return nil
}

// ToJSON returns the canonical JSON form as a string.
func (c *Config) ToJSON() (string, error) {
	data, err := c.MarshalJSON()
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// ConfigFromJSON is the inverse of ToJSON. Text that is not JSON, lacks
// referenceText, gradingSystem or granularity, or names an unknown enum member
// fails with ErrMalformedInput.
func ConfigFromJSON(text string) (*Config, error) {
	return decodeConfig([]byte(text))
}

func decodeConfig(data []byte) (*Config, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, malformed(data, errors.New("empty config"))
	}
	if err := validateConfigDocument(data); err != nil {
		return nil, err
	}

	var wire canonicalConfig
	if err := json.Unmarshal(data, &wire); err != nil {
		return nil, malformed(data, fmt.Errorf("decode config: %w", err))
	}
	if wire.Dimension == 0 {
		wire.Dimension = DimensionComprehensive
	}

	c := &Config{
		referenceText: wire.ReferenceText,
		gradingSystem: wire.GradingSystem,
		granularity:   wire.Granularity,
		dimension:     wire.Dimension,
		enableMiscue:  wire.EnableMiscue,
		scenarioID:    wire.ScenarioID,
	}
	if err := c.validate(); err != nil {
		return nil, malformed(data, err)
	}
	return c, nil
}
