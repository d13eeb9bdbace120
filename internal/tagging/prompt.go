package tagging

import (
	"fmt"
	"regexp"
	"strings"

	"agentsync/internal/ai"
)

const (
	maxHints     = 40
	maxBodyRunes = 2000
)

var bullet = regexp.MustCompile(`^(?:[-*•]|\d+[.)])\s*`)

const systemPrompt = `You tag content for a catalog of software tools and categories.
Reply with a comma-separated list of at most 15 short lowercase topics and nothing else.
Prefer names from the known tools and categories when they apply.`

// BuildPrompt assembles the topic extraction request.
func BuildPrompt(title, body string, src SourceContext, tools, categories []string) []ai.Message {
	var b strings.Builder
	fmt.Fprintf(&b, "Title: %s\n", title)
	if src.SourceName != "" {
		fmt.Fprintf(&b, "Source: %s\n", src.SourceName)
	}
	if src.Flair != "" {
		fmt.Fprintf(&b, "Flair: %s\n", src.Flair)
	}
	if body = truncateRunes(strings.TrimSpace(body), maxBodyRunes); body != "" {
		fmt.Fprintf(&b, "Body:\n%s\n", body)
	}
	if len(tools) > 0 {
		fmt.Fprintf(&b, "Known tools: %s\n", strings.Join(sample(tools, maxHints), ", "))
	}
	if len(categories) > 0 {
		fmt.Fprintf(&b, "Known categories: %s\n", strings.Join(sample(categories, maxHints), ", "))
	}

	return []ai.Message{
		{Role: "system", Content: systemPrompt},
		{Role: "user", Content: b.String()},
	}
}

func sample(names []string, n int) []string {
	if len(names) <= n {
		return names
	}
	return names[:n]
}

func truncateRunes(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}

// ParseTopics splits a completion into at most MaxTopics lowercase,
// deduplicated topics.
func ParseTopics(reply string) []string {
	fields := strings.FieldsFunc(reply, func(r rune) bool {
		return r == ',' || r == '\n' || r == ';'
	})

	var out []string
	seen := make(map[string]bool)
	for _, f := range fields {
		f = strings.ToLower(strings.TrimSpace(f))
		f = bullet.ReplaceAllString(f, "")
		f = strings.Trim(f, "\"'`. ")
		if f == "" || len(f) > maxTopicLen || seen[f] {
			continue
		}
		seen[f] = true
		out = append(out, f)
		if len(out) == MaxTopics {
			break
		}
	}
	return out
}
