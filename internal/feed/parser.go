// Package feed normalizes Atom and RSS documents into candidate items.
package feed

import (
	"bytes"
	"cmp"
	"encoding/json"
	"net/url"
	"strings"
	"time"

	"github.com/mmcdole/gofeed"

	"agentsync/internal/domain"
)

const deletedAuthor = "[deleted]"

type Parser struct {
	gofeedParser *gofeed.Parser
}

func NewParser() *Parser {
	return &Parser{
		gofeedParser: gofeed.NewParser(),
	}
}

// Parse converts a raw feed body into candidates in feed order. A body that
// is not a feed yields a *domain.ParseError; entries without an ID or link
// are dropped.
func (p *Parser) Parse(data []byte) ([]domain.CandidateItem, error) {
	parsed, err := p.gofeedParser.Parse(bytes.NewReader(data))
	if err != nil {
		return nil, &domain.ParseError{Source: "feed", Err: err}
	}

	items := make([]domain.CandidateItem, 0, len(parsed.Items))
	for _, item := range parsed.Items {
		if item == nil {
			continue
		}
		candidate, ok := p.normalizeItem(item)
		if !ok {
			continue
		}
		items = append(items, candidate)
	}
	return items, nil
}

func (p *Parser) normalizeItem(item *gofeed.Item) (domain.CandidateItem, bool) {
	id := EntryID(cmp.Or(item.GUID, item.Link))
	if id == "" || item.Link == "" {
		return domain.CandidateItem{}, false
	}

	candidate := domain.CandidateItem{
		ExternalID:   id,
		Title:        strings.TrimSpace(item.Title),
		Author:       authorName(item),
		Permalink:    item.Link,
		ThumbnailURL: thumbnail(item),
		Community:    Community(item.Link),
		Summary:      cmp.Or(item.Content, item.Description),
	}

	switch {
	case item.PublishedParsed != nil:
		t := item.PublishedParsed.UTC()
		candidate.PublishedAt = &t
	case item.UpdatedParsed != nil:
		t := item.UpdatedParsed.UTC()
		candidate.PublishedAt = &t
	}

	if raw, err := json.Marshal(item); err == nil {
		candidate.Raw = raw
	}

	return candidate, true
}

// EntryID returns the part after the last ':' of a tag-style identifier
// such as "yt:video:abc" or "tag:reddit.com,2005:t3_xyz".
func EntryID(id string) string {
	id = strings.TrimSpace(id)
	if strings.HasPrefix(id, "http://") || strings.HasPrefix(id, "https://") {
		return id
	}
	if i := strings.LastIndex(id, ":"); i >= 0 {
		return id[i+1:]
	}
	return id
}

// Community extracts the sub-community from a permalink path like
// /r/golang/comments/... and returns "" when there is none.
func Community(link string) string {
	u, err := url.Parse(link)
	if err != nil {
		return ""
	}
	parts := strings.Split(strings.Trim(u.Path, "/"), "/")
	for i := 0; i+1 < len(parts); i++ {
		if parts[i] == "r" && parts[i+1] != "" {
			return parts[i+1]
		}
	}
	return ""
}

func authorName(item *gofeed.Item) string {
	var name string
	if item.Author != nil {
		name = item.Author.Name
	}
	if name == "" {
		for _, a := range item.Authors {
			if a != nil && a.Name != "" {
				name = a.Name
				break
			}
		}
	}
	name = strings.TrimPrefix(strings.TrimSpace(name), "/u/")
	if name == "" {
		return deletedAuthor
	}
	return name
}

func thumbnail(item *gofeed.Item) string {
	if media, ok := item.Extensions["media"]; ok {
		for _, key := range []string{"thumbnail", "content"} {
			for _, ext := range media[key] {
				if u := ext.Attrs["url"]; u != "" {
					return u
				}
			}
		}
		for _, group := range media["group"] {
			for _, ext := range group.Children["thumbnail"] {
				if u := ext.Attrs["url"]; u != "" {
					return u
				}
			}
		}
	}
	for _, enc := range item.Enclosures {
		if enc != nil && strings.HasPrefix(enc.Type, "image/") {
			return enc.URL
		}
	}
	if item.Image != nil {
		return item.Image.URL
	}
	return ""
}

// After keeps candidates published after since; undated candidates are kept.
func After(items []domain.CandidateItem, since *time.Time) []domain.CandidateItem {
	if since == nil {
		return items
	}
	filtered := make([]domain.CandidateItem, 0, len(items))
	for _, item := range items {
		if PublishedAfter(item, since) {
			filtered = append(filtered, item)
		}
	}
	return filtered
}

// PublishedAfter reports whether item is newer than since. A nil since or
// an undated item counts as newer.
func PublishedAfter(item domain.CandidateItem, since *time.Time) bool {
	return since == nil || item.PublishedAt == nil || item.PublishedAt.After(*since)
}
