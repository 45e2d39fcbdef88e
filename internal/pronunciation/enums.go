package pronunciation

import (
	"fmt"
	"sort"
)

// GradingSystem is the scale scores are reported on.
type GradingSystem int

const (
	GradingFivePoint GradingSystem = iota + 1
	GradingHundredMark
)

// Granularity is the requested depth of result detail.
type Granularity int

const (
	GranularityPhoneme Granularity = iota + 1
	GranularityWord
	GranularityFullText
)

// Dimension selects the score set. Only Comprehensive exists today.
type Dimension int

const (
	DimensionComprehensive Dimension = iota + 1
)

var gradingSystemNames = map[GradingSystem]string{
	GradingFivePoint:   "FivePoint",
	GradingHundredMark: "HundredMark",
}

var granularityNames = map[Granularity]string{
	GranularityPhoneme:  "Phoneme",
	GranularityWord:     "Word",
	GranularityFullText: "FullText",
}

var dimensionNames = map[Dimension]string{
	DimensionComprehensive: "Comprehensive",
}

func (g GradingSystem) Valid() bool {
	_, ok := gradingSystemNames[g]
	return ok
}

func (g GradingSystem) String() string {
	if name, ok := gradingSystemNames[g]; ok {
		return name
	}
	return fmt.Sprintf("GradingSystem(%d)", int(g))
}

func (g GradingSystem) MarshalText() ([]byte, error) {
	if !g.Valid() {
		return nil, &InvalidArgumentError{Field: "gradingSystem", Value: int(g)}
	}
	return []byte(g.String()), nil
}

func (g *GradingSystem) UnmarshalText(text []byte) error {
	parsed, err := ParseGradingSystem(string(text))
	if err != nil {
		return err
	}
	*g = parsed
	return nil
}

// ParseGradingSystem maps a symbolic name such as "HundredMark" to its value.
func ParseGradingSystem(name string) (GradingSystem, error) {
	if g, ok := lookupName(gradingSystemNames, name); ok {
		return g, nil
	}
	return 0, &InvalidArgumentError{Field: "gradingSystem", Value: name}
}

func (g Granularity) Valid() bool {
	_, ok := granularityNames[g]
	return ok
}

func (g Granularity) String() string {
	if name, ok := granularityNames[g]; ok {
		return name
	}
	return fmt.Sprintf("Granularity(%d)", int(g))
}

func (g Granularity) MarshalText() ([]byte, error) {
	if !g.Valid() {
		return nil, &InvalidArgumentError{Field: "granularity", Value: int(g)}
	}
	return []byte(g.String()), nil
}

func (g *Granularity) UnmarshalText(text []byte) error {
	parsed, err := ParseGranularity(string(text))
	if err != nil {
		return err
	}
	*g = parsed
	return nil
}

// ParseGranularity maps a symbolic name such as "Phoneme" to its value.
func ParseGranularity(name string) (Granularity, error) {
	if g, ok := lookupName(granularityNames, name); ok {
		return g, nil
	}
	return 0, &InvalidArgumentError{Field: "granularity", Value: name}
}

func (d Dimension) Valid() bool {
	_, ok := dimensionNames[d]
	return ok
}

func (d Dimension) String() string {
	if name, ok := dimensionNames[d]; ok {
		return name
	}
	return fmt.Sprintf("Dimension(%d)", int(d))
}

func (d Dimension) MarshalText() ([]byte, error) {
	if !d.Valid() {
		return nil, &InvalidArgumentError{Field: "dimension", Value: int(d)}
	}
	return []byte(d.String()), nil
}

func (d *Dimension) UnmarshalText(text []byte) error {
	parsed, err := ParseDimension(string(text))
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

// ParseDimension maps "Comprehensive" to DimensionComprehensive.
func ParseDimension(name string) (Dimension, error) {
	if d, ok := lookupName(dimensionNames, name); ok {
		return d, nil
	}
	return 0, &InvalidArgumentError{Field: "dimension", Value: name}
}

// GradingSystemNames lists the accepted symbolic names in ordinal order.
func GradingSystemNames() []string { return sortedNames(gradingSystemNames) }

// GranularityNames lists the accepted symbolic names in ordinal order.
func GranularityNames() []string { return sortedNames(granularityNames) }

// DimensionNames lists the accepted symbolic names in ordinal order.
func DimensionNames() []string { return sortedNames(dimensionNames) }

func lookupName[T comparable](names map[T]string, name string) (T, bool) {
	for value, candidate := range names {
		if candidate == name {
			return value, true
		}
	}
	var zero T
	return zero, false
}

func sortedNames[T ~int](names map[T]string) []string {
	values := make([]T, 0, len(names))
	for value := range names {
		values = append(values, value)
	}
	sort.Slice(values, func(i, j int) bool { return values[i] < values[j] })
	out := make([]string, 0, len(values))
	for _, value := range values {
		out = append(out, names[value])
	}
	return out
}

// ErrorType is the miscue classification attached to a result word.
type ErrorType string

const (
	ErrorTypeNone             ErrorType = "None"
	ErrorTypeOmission         ErrorType = "Omission"
	ErrorTypeInsertion        ErrorType = "Insertion"
	ErrorTypeMispronunciation ErrorType = "Mispronunciation"
)

// IsMiscue reports whether the tag marks a mismatch against the reference text.
func (e ErrorType) IsMiscue() bool {
	switch e {
	case ErrorTypeOmission, ErrorTypeInsertion, ErrorTypeMispronunciation:
		return true
	default:
		return false
	}
}
