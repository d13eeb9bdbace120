package tagging

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"

	"agentsync/internal/ai"
	"agentsync/internal/domain"
)

const (
	MaxTopics   = 15
	maxTopicLen = 64
)

var errNoCompleter = errors.New("completion service not configured")

type Completer interface {
	Complete(ctx context.Context, messages []ai.Message) (string, error)
}

type Taxonomy interface {
	ListTools(ctx context.Context) ([]domain.Tool, error)
	ListCategories(ctx context.Context) ([]domain.Category, error)
}

type TagWriter interface {
	SetTags(ctx context.Context, itemID int64, tags domain.Tags) error
}

// SourceContext is what the tagger knows about where an item came from.
type SourceContext struct {
	SourceName         string
	Platform           domain.Platform
	Flair              string
	DefaultToolIDs     []int64
	DefaultCategoryIDs []int64
}

// ContextFor builds the SourceContext of an agent's item.
func ContextFor(agent *domain.SourceAgent, metrics domain.Metrics) SourceContext {
	return SourceContext{
		SourceName:         agent.DisplayName(),
		Platform:           agent.Platform,
		Flair:              metrics.Flair,
		DefaultToolIDs:     agent.Config.DefaultToolIDs,
		DefaultCategoryIDs: agent.Config.DefaultCategoryIDs,
	}
}

type Tagger struct {
	completer Completer
	taxonomy  Taxonomy
	writer    TagWriter
	logger    *slog.Logger
}

func NewTagger(completer Completer, taxonomy Taxonomy, writer TagWriter, logger *slog.Logger) *Tagger {
	return &Tagger{
		completer: completer,
		taxonomy:  taxonomy,
		writer:    writer,
		logger:    logger,
	}
}

// Tag classifies an item. It falls back to keyword topics when the
// completion call fails and only errors when the taxonomy cannot be read.
func (t *Tagger) Tag(ctx context.Context, item *domain.ContentItem, metrics domain.Metrics, src SourceContext) (domain.Tags, error) {
	tools, err := t.taxonomy.ListTools(ctx)
	if err != nil {
		return domain.Tags{}, fmt.Errorf("list tools: %w", err)
	}
	categories, err := t.taxonomy.ListCategories(ctx)
	if err != nil {
		return domain.Tags{}, fmt.Errorf("list categories: %w", err)
	}

	body := metrics.Body
	if body == "" {
		body = item.Title
	}

	topics, err := t.extractTopics(ctx, item.Title, body, src, tools, categories)
	if err != nil {
		t.logger.Warn("topic extraction failed, using keyword fallback",
			"external_id", item.ExternalID,
			"error", err,
		)
		topics = FallbackTopics(item.Title, body, src)
	}

	return domain.Tags{
		ToolIDs:     matchIDs(src.DefaultToolIDs, topics, tools, func(tl domain.Tool) (int64, string, string) { return tl.ID, tl.Name, tl.Slug }),
		CategoryIDs: matchIDs(src.DefaultCategoryIDs, topics, categories, func(c domain.Category) (int64, string, string) { return c.ID, c.Name, c.Slug }),
		Topics:      topics,
	}, nil
}

// Apply tags the item and persists the result unless it was edited by hand.
// It reports whether tags were written.
func (t *Tagger) Apply(ctx context.Context, item *domain.ContentItem, metrics domain.Metrics, src SourceContext) (bool, error) {
	if item.ManuallyEdited {
		return false, nil
	}

	tags, err := t.Tag(ctx, item, metrics, src)
	if err != nil {
		return false, err
	}
	if tags.Empty() {
		return false, nil
	}

	err = t.writer.SetTags(ctx, item.ID, tags)
	if errors.Is(err, domain.ErrManuallyEdited) {
		t.logger.Info("item edited by hand, tags not written", "external_id", item.ExternalID)
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("set tags: %w", err)
	}

	item.ToolIDs = tags.ToolIDs
	item.CategoryIDs = tags.CategoryIDs
	item.Topics = tags.Topics
	return true, nil
}

func (t *Tagger) extractTopics(ctx context.Context, title, body string, src SourceContext, tools []domain.Tool, categories []domain.Category) ([]string, error) {
	if t.completer == nil {
		return nil, errNoCompleter
	}

	toolNames := make([]string, len(tools))
	for i, tl := range tools {
		toolNames[i] = tl.Name
	}
	categoryNames := make([]string, len(categories))
	for i, c := range categories {
		categoryNames[i] = c.Name
	}

	reply, err := t.completer.Complete(ctx, BuildPrompt(title, body, src, toolNames, categoryNames))
	if err != nil {
		return nil, err
	}

	topics := ParseTopics(reply)
	if len(topics) == 0 {
		return nil, fmt.Errorf("empty topic list in reply %q", reply)
	}
	return topics, nil
}

// matchIDs returns defaults first, then entries whose name equals a topic,
// then entries whose slug equals a topic's slug.
func matchIDs[T any](defaults []int64, topics []string, entries []T, key func(T) (int64, string, string)) []int64 {
	out := slices.Clone(defaults)
	add := func(id int64) {
		if !slices.Contains(out, id) {
			out = append(out, id)
		}
	}

	byName := make(map[string]int64, len(entries))
	bySlug := make(map[string]int64, len(entries))
	for _, e := range entries {
		id, name, slug := key(e)
		byName[strings.ToLower(strings.TrimSpace(name))] = id
		if slug == "" {
			slug = Slugify(name)
		}
		bySlug[slug] = id
	}

	var unmatched []string
	for _, topic := range topics {
		if id, ok := byName[topic]; ok {
			add(id)
			continue
		}
		unmatched = append(unmatched, topic)
	}
	for _, topic := range unmatched {
		if id, ok := bySlug[Slugify(topic)]; ok {
			add(id)
		}
	}
	return out
}
