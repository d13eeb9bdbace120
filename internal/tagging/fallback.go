package tagging

import (
	"regexp"
	"slices"
	"strings"
)

// keywordTopics maps phrases found in text to the topic they imply.
var keywordTopics = map[string]string{
	"golang":           "go",
	"python":           "python",
	"rust":             "rust",
	"javascript":       "javascript",
	"typescript":       "typescript",
	"react":            "react",
	"kubernetes":       "kubernetes",
	"k8s":              "kubernetes",
	"docker":           "docker",
	"postgres":         "postgresql",
	"postgresql":       "postgresql",
	"sqlite":           "sqlite",
	"llm":              "llm",
	"gpt":              "openai",
	"chatgpt":          "openai",
	"openai":           "openai",
	"claude":           "anthropic",
	"llama":            "llama",
	"ollama":           "ollama",
	"stable diffusion": "stable diffusion",
	"midjourney":       "midjourney",
	"machine learning": "machine learning",
	"deep learning":    "machine learning",
	"neural network":   "machine learning",
	"open source":      "open source",
	"self-hosted":      "self-hosted",
	"selfhosted":       "self-hosted",
	"raspberry pi":     "raspberry pi",
	"arduino":          "arduino",
	"3d printing":      "3d printing",
	"game dev":         "game development",
	"gamedev":          "game development",
	"unity":            "unity",
	"godot":            "godot",
	"tutorial":         "tutorial",
	"show hn":          "showcase",
	"i made":           "showcase",
	"i built":          "showcase",
}

type phrase struct {
	re    *regexp.Regexp
	topic string
}

var keywordPhrases = compilePhrases(keywordTopics)

func compilePhrases(m map[string]string) []phrase {
	out := make([]phrase, 0, len(m))
	for k, v := range m {
		out = append(out, phrase{re: regexp.MustCompile(`(?i)(?:^|[^\pL\pN])` + regexp.QuoteMeta(k) + `(?:$|[^\pL\pN])`), topic: v})
	}
	return out
}

// FallbackTopics derives topics without the completion service: dictionary
// hits in title and body, plus the source name and flair.
func FallbackTopics(title, body string, src SourceContext) []string {
	text := title + "\n" + body

	var raw []string
	for _, p := range keywordPhrases {
		if p.re.MatchString(text) {
			raw = append(raw, p.topic)
		}
	}
	// map iteration order is random
	slices.Sort(raw)

	if src.SourceName != "" {
		raw = append(raw, src.SourceName)
	}
	if src.Flair != "" {
		raw = append(raw, src.Flair)
	}
	return ParseTopics(strings.Join(raw, ","))
}
