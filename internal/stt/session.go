package stt

import (
	"github.com/google/uuid"
	"github.com/loqalabs/loqa-assess/internal/pronunciation"
)

// Session is one recognition session and its property bag.
type Session struct {
	id    string
	props *Properties
}

// NewSession creates a session with a generated id.
func NewSession(language string) *Session {
	return NewSessionWithID(uuid.NewString(), language)
}

// NewSessionWithID creates a session bound to an existing id, such as the
// session id carried by bus audio frames.
func NewSessionWithID(id, language string) *Session {
	props := NewProperties()
	_ = props.Set(PropertySessionID, id)
	if language != "" {
		_ = props.Set(PropertyRecognitionLanguage, language)
	}
	return &Session{id: id, props: props}
}

func (s *Session) ID() string { return s.id }

func (s *Session) Language() string {
	return s.props.Get(PropertyRecognitionLanguage, "")
}

func (s *Session) Properties() *Properties { return s.props }

// SetAssessmentParameters implements pronunciation.ParameterSink.
func (s *Session) SetAssessmentParameters(params string) {
	_ = s.props.Set(PropertyPronunciationAssessmentParams, params)
}

// AssessmentParameters implements pronunciation.ParameterSource. A nil
// session has no parameters.
func (s *Session) AssessmentParameters() (string, bool) {
	if s == nil {
		return "", false
	}
	return s.props.Lookup(PropertyPronunciationAssessmentParams)
}

// AssessmentConfig decodes the attached parameters, if any.
func (s *Session) AssessmentConfig() (*pronunciation.Config, error) {
	return pronunciation.ConfigFromSession(s)
}

var (
	_ pronunciation.ParameterSink   = (*Session)(nil)
	_ pronunciation.ParameterSource = (*Session)(nil)
)
