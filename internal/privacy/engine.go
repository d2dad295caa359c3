// Package privacy implements the pseudonymization engine: given a text and the
// entities detected in it, it assigns one stable pseudonym per distinct value and
// rewrites every occurrence.
package privacy

import (
	"fmt"
	"sort"
	"strings"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"
)

// Anonymize replaces every occurrence of each entity's text in originalText with a
// pseudonym of the form "<type-label>-<n>". Longer entities are processed first so
// that a value contained in another one cannot split an already matched span.
// Counters and the replacement map are local to the call.
func Anonymize(originalText string, entities []Entity) *Result {
	replacements := make(ReplacementMap)
	counters := newEntityCounters()
	assignedType := make(map[string]EntityType)
	var conflicts []TypeConflict
	reported := make(map[TypeConflict]bool)

	sorted := make([]Entity, len(entities))
	copy(sorted, entities)
	sort.SliceStable(sorted, func(i, j int) bool {
		return utf8.RuneCountInString(sorted[i].Text) > utf8.RuneCountInString(sorted[j].Text)
	})

	output := originalText
	for _, entity := range sorted {
		normalized := strings.TrimSpace(entity.Text)
		if normalized == "" {
			continue
		}

		pseudonym, exists := replacements[normalized]
		if !exists {
			pseudonym = fmt.Sprintf("%s-%d", entity.Type.Label(), counters.next(entity.Type))
			replacements[normalized] = pseudonym
			assignedType[normalized] = entity.Type
		} else if first := assignedType[normalized]; first != entity.Type {
			conflict := TypeConflict{
				Text:     normalized,
				Assigned: first,
				Ignored:  entity.Type,
			}
			if !reported[conflict] {
				reported[conflict] = true
				conflicts = append(conflicts, conflict)
			}
		}

		// Literal replacement; also safe for text that is not valid UTF-8.
		output = strings.ReplaceAll(output, entity.Text, pseudonym)
	}

	if entities == nil {
		entities = []Entity{}
	}

	return &Result{
		OriginalText:   originalText,
		AnonymizedText: output,
		Entities:       entities,
		ReplacementMap: replacements,
		Conflicts:      conflicts,
		counters:       counters,
	}
}

// Engine runs Anonymize and reports type conflicts through the logger
type Engine struct {
	logger *zap.Logger
}

// NewEngine creates an engine. A nil logger disables logging.
func NewEngine(logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{logger: logger}
}

// Anonymize pseudonymizes text using the given entities. Original values are never logged.
func (e *Engine) Anonymize(text string, entities []Entity) *Result {
	start := time.Now()
	result := Anonymize(text, entities)

	for _, c := range result.Conflicts {
		e.logger.Warn("Entity declared with conflicting types",
			zap.Int("text_length", utf8.RuneCountInString(c.Text)),
			zap.String("assigned", string(c.Assigned)),
			zap.String("ignored", string(c.Ignored)),
		)
	}

	e.logger.Debug("Text pseudonymized",
		zap.Int("entities", len(entities)),
		zap.Int("pseudonyms", len(result.ReplacementMap)),
		zap.Any("type_counts", result.TypeCounts()),
		zap.Duration("duration", time.Since(start)),
	)

	return result
}
