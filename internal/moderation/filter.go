package moderation

import (
	"regexp"
	"sort"
	"strings"
)

// DefaultMinMatches is the number of distinct terms that rejects a normal
// (non-strict) source.
const DefaultMinMatches = 3

// KeywordResult records what the local filter saw.
type KeywordResult struct {
	Rejected    bool                  `json:"rejected"`
	ChildSafety bool                  `json:"child_safety,omitempty"`
	Matches     map[Category][]string `json:"matches,omitempty"`
	Distinct    int                   `json:"distinct"`
	Reason      string                `json:"reason,omitempty"`
}

type term struct {
	text     string
	category Category
	re       *regexp.Regexp
}

// KeywordFilter is the network-free first stage.
type KeywordFilter struct {
	terms      []term
	minMatches int
}

func NewKeywordFilter(lists map[Category][]string, minMatches int) *KeywordFilter {
	if minMatches <= 0 {
		minMatches = DefaultMinMatches
	}

	categories := make([]string, 0, len(lists))
	for c := range lists {
		categories = append(categories, string(c))
	}
	sort.Strings(categories)

	f := &KeywordFilter{minMatches: minMatches}
	for _, c := range categories {
		for _, t := range lists[Category(c)] {
			t = strings.ToLower(strings.TrimSpace(t))
			if t == "" {
				continue
			}
			f.terms = append(f.terms, term{text: t, category: Category(c), re: compileTerm(t)})
		}
	}
	return f
}

func compileTerm(t string) *regexp.Regexp {
	parts := strings.Fields(t)
	for i, p := range parts {
		parts[i] = regexp.QuoteMeta(p)
	}
	return regexp.MustCompile(`(?i)\b` + strings.Join(parts, `\s+`) + `\b`)
}

// Check scans text. A child-safety hit always rejects. Otherwise strict
// sources reject on any hit and normal sources need minMatches distinct terms.
func (f *KeywordFilter) Check(text string, strict bool) KeywordResult {
	res := KeywordResult{Matches: make(map[Category][]string)}
	seen := make(map[string]bool)

	for _, t := range f.terms {
		if !t.re.MatchString(text) {
			continue
		}
		res.Matches[t.category] = append(res.Matches[t.category], t.text)
		if t.category == CategoryChildSafety {
			res.ChildSafety = true
			continue
		}
		if !seen[t.text] {
			seen[t.text] = true
			res.Distinct++
		}
	}

	switch {
	case res.ChildSafety:
		res.Rejected = true
		res.Reason = "child safety keyword match"
	case strict && res.Distinct > 0:
		res.Rejected = true
		res.Reason = "keyword match (strict): " + f.summary(res)
	case res.Distinct >= f.minMatches:
		res.Rejected = true
		res.Reason = "keyword matches: " + f.summary(res)
	}

	if len(res.Matches) == 0 {
		res.Matches = nil
	}
	return res
}

func (f *KeywordFilter) summary(res KeywordResult) string {
	var parts []string
	for _, c := range []Category{CategorySexual, CategoryHate, CategoryViolence} {
		if terms := res.Matches[c]; len(terms) > 0 {
			parts = append(parts, string(c)+"="+strings.Join(terms, "|"))
		}
	}
	return strings.Join(parts, " ")
}
