package pronunciation

import (
	"errors"
	"reflect"
	"strings"
)

// ParamsPropertyName is the property slot a recognizer session reads the
// assessment parameters from.
const ParamsPropertyName = "PronunciationAssessment_Params"

// ParameterSink receives serialized assessment parameters before recognition.
type ParameterSink interface {
	SetAssessmentParameters(params string)
}

// ParameterSource exposes parameters previously attached to a session.
type ParameterSource interface {
	AssessmentParameters() (string, bool)
}

// PayloadCarrier is a recognition result that may carry a scoring payload.
type PayloadCarrier interface {
	AssessmentPayload() (string, bool)
}

// AttachTo writes the canonical JSON into the session's parameter slot.
// Re-attaching overwrites the previous value. Session readiness is the
// session's concern. A nil session, including a typed nil pointer, fails with
// ErrInvalidArgument.
func (c *Config) AttachTo(session ParameterSink) error {
	if isNil(session) {
		return &InvalidArgumentError{Field: "session", Value: nil}
	}
	params, err := c.ToJSON()
	if err != nil {
		return err
	}
	session.SetAssessmentParameters(params)
	return nil
}

// ConfigFromSession decodes the parameters attached to a session.
func ConfigFromSession(session ParameterSource) (*Config, error) {
	if isNil(session) {
		return nil, ErrMissingPayload
	}
	params, ok := session.AssessmentParameters()
	if !ok || strings.TrimSpace(params) == "" {
		return nil, errors.Join(ErrMissingPayload, errors.New("no assessment parameters attached"))
	}
	return ConfigFromJSON(params)
}

func isNil(v any) bool {
	if v == nil {
		return true
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Pointer, reflect.Map, reflect.Slice, reflect.Func, reflect.Chan, reflect.Interface:
		return rv.IsNil()
	}
	return false
}
