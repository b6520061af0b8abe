package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	_ "embed"

	"github.com/elliotchance/pie/v2"
	"github.com/samber/oops"
	"github.com/tmc/langchaingo/llms"
)

const unknownType = "unknown"

//go:embed extract_prompt.txt
var extractPromptTemplate string

//go:embed answer_prompt.txt
var answerPromptTemplate string

// renderPrompt fills {key} placeholders in one pass, so substituted values are
// never expanded again.
func renderPrompt(template string, values map[string]any) string {
	pairs := make([]string, 0, 2*len(values))
	for _, key := range pie.Sort(pie.Keys(values)) {
		pairs = append(pairs, "{"+key+"}", fmt.Sprint(values[key]))
	}
	return strings.NewReplacer(pairs...).Replace(template)
}

// trimJSON strips markdown fences models like to wrap JSON answers in.
func trimJSON(s string) string {
	s = strings.TrimSpace(s)
	s = strings.Trim(s, "`")
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "json")
	return strings.TrimSpace(s)
}

func extractGraph(ctx context.Context, model llms.Model, text string) (*extraction, error) {
	prompt := renderPrompt(extractPromptTemplate, map[string]any{
		"text": text,
	})

	raw, err := llms.GenerateFromSinglePrompt(ctx, model, prompt,
		llms.WithJSONMode(),
		llms.WithTemperature(0),
	)
	if err != nil {
		return nil, oops.In("memory").Errorf("failed to call extraction model: %w", err)
	}

	var result extraction
	if err = json.Unmarshal([]byte(trimJSON(raw)), &result); err != nil {
		return nil, oops.In("memory").With("response", raw).Errorf("failed to unmarshal extraction: %w", err)
	}

	return &result, nil
}

// normalize drops nameless entities and relations, and adds placeholder
// entities for relation ends the model did not list.
func (e *extraction) normalize() ([]*Entity, []*Relation) {
	byKey := make(map[string]*Entity)
	var entities []*Entity

	add := func(name, entityType string, observations []string) *Entity {
		key := entityKey(name)
		if existing, ok := byKey[key]; ok {
			existing.Observations = append(existing.Observations, observations...)
			if existing.Type == unknownType && entityType != "" {
				existing.Type = strings.ToLower(strings.TrimSpace(entityType))
			}
			return existing
		}

		if entityType == "" {
			entityType = unknownType
		}

		entity := &Entity{
			Name:         strings.TrimSpace(name),
			Type:         strings.ToLower(strings.TrimSpace(entityType)),
			Observations: observations,
		}
		byKey[key] = entity
		entities = append(entities, entity)
		return entity
	}

	for _, item := range e.Entities {
		if entityKey(item.Name) == "" {
			continue
		}
		add(item.Name, item.Type, item.Observations)
	}

	var relations []*Relation
	for _, item := range e.Relations {
		relType := strings.TrimSpace(item.Type)
		if entityKey(item.Source) == "" || entityKey(item.Target) == "" || relType == "" {
			continue
		}

		from := add(item.Source, "", nil)
		to := add(item.Target, "", nil)

		relations = append(relations, &Relation{
			From: from.Name,
			To:   to.Name,
			Type: relType,
		})
	}

	return entities, relations
}

func completeAnswer(ctx context.Context, model llms.Model, query, knowledge string) (string, error) {
	prompt := renderPrompt(answerPromptTemplate, map[string]any{
		"query":   query,
		"context": knowledge,
	})

	answer, err := llms.GenerateFromSinglePrompt(ctx, model, prompt, llms.WithTemperature(0))
	if err != nil {
		return "", oops.In("memory").Errorf("failed to call completion model: %w", err)
	}

	return strings.TrimSpace(answer), nil
}
