package privacy

import (
	"errors"
	"fmt"
	"strings"
)

// ErrUnknownEntityType is returned when a type string is not one of the supported entity types
var ErrUnknownEntityType = errors.New("unknown entity type")

// EntityType classifies a detected PII span
type EntityType string

const (
	EntityPersonName         EntityType = "PERSON_NAME"
	EntityAddress            EntityType = "ADDRESS"
	EntityPhoneNumber        EntityType = "PHONE_NUMBER"
	EntityEmail              EntityType = "EMAIL"
	EntityDocumentID         EntityType = "DOCUMENT_ID"
	EntityOrganization       EntityType = "ORGANIZATION"
	EntityLocation           EntityType = "LOCATION"
	EntityDate               EntityType = "DATE"
	EntityOtherSensitiveData EntityType = "OTHER_SENSITIVE_DATA"
)

var entityTypes = []EntityType{
	EntityPersonName,
	EntityAddress,
	EntityPhoneNumber,
	EntityEmail,
	EntityDocumentID,
	EntityOrganization,
	EntityLocation,
	EntityDate,
	EntityOtherSensitiveData,
}

// AllEntityTypes returns every supported entity type in declaration order
func AllEntityTypes() []EntityType {
	out := make([]EntityType, len(entityTypes))
	copy(out, entityTypes)
	return out
}

// ParseEntityType converts s into an EntityType. Matching is exact and case-sensitive.
func ParseEntityType(s string) (EntityType, error) {
	for _, t := range entityTypes {
		if string(t) == s {
			return t, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownEntityType, s)
}

// Valid reports whether t is one of the supported entity types
func (t EntityType) Valid() bool {
	_, err := ParseEntityType(string(t))
	return err == nil
}

// Label returns the pseudonym prefix for the type, e.g. "person-name" for PERSON_NAME
func (t EntityType) Label() string {
	return strings.ReplaceAll(strings.ToLower(string(t)), "_", "-")
}

// UnmarshalText rejects type strings outside the supported set
func (t *EntityType) UnmarshalText(text []byte) error {
	parsed, err := ParseEntityType(string(text))
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}

// Entity is a typed span reported by an extractor. Text is expected to appear verbatim in the source text.
type Entity struct {
	Text string     `json:"text"`
	Type EntityType `json:"type"`
}

// ReplacementMap maps trimmed original entity text to its pseudonym
type ReplacementMap map[string]string

// EntityCounters holds the next pseudonym number per entity type
type EntityCounters map[EntityType]int

func newEntityCounters() EntityCounters {
	counters := make(EntityCounters, len(entityTypes))
	for _, t := range entityTypes {
		counters[t] = 1
	}
	return counters
}

// next returns the current number for t and advances the counter
func (c EntityCounters) next(t EntityType) int {
	n, ok := c[t]
	if !ok || n < 1 {
		n = 1
	}
	c[t] = n + 1
	return n
}

// TypeConflict records a text that was declared with more than one entity type.
// The first type in processing order is kept.
type TypeConflict struct {
	Text     string     `json:"text"`
	Assigned EntityType `json:"assigned"`
	Ignored  EntityType `json:"ignored"`
}

// Result is the output of a single anonymization run
type Result struct {
	OriginalText   string         `json:"originalText"`
	AnonymizedText string         `json:"anonymizedText"`
	Entities       []Entity       `json:"entities"`
	ReplacementMap ReplacementMap `json:"replacementMap"`
	Conflicts      []TypeConflict `json:"conflicts,omitempty"`

	counters EntityCounters
}

// TypeCounts returns how many distinct pseudonyms were allocated per entity type.
// Types with no allocation are omitted.
func (r *Result) TypeCounts() map[EntityType]int {
	counts := make(map[EntityType]int)
	for t, next := range r.counters {
		if next > 1 {
			counts[t] = next - 1
		}
	}
	return counts
}
