package intent

import "strings"

// Verdict is the outcome of classifying one user message.
type Verdict struct {
	WantsScoring bool
}

// Classifier decides whether a message asks for job scoring.
type Classifier interface {
	Classify(text string) Verdict
}

// DefaultKeywords is the scoring vocabulary. Matching is a plain substring
// test, so "rate" also hits "separate". False positives are acceptable since
// the router refuses scoring when jobs or a profile are missing.
var DefaultKeywords = []string{
	"score",
	"match",
	"fit",
	"rate",
	"evaluate",
	"assess",
	"rank",
	"priority",
	"compare",
}

type KeywordClassifier struct {
	keywords []string
}

// NewKeywordClassifier returns a classifier over DefaultKeywords plus extra.
// Blank and repeated keywords are ignored.
func NewKeywordClassifier(extra ...string) *KeywordClassifier {
	seen := make(map[string]struct{}, len(DefaultKeywords)+len(extra))
	keywords := make([]string, 0, len(DefaultKeywords)+len(extra))

	for _, kw := range append(append([]string{}, DefaultKeywords...), extra...) {
		kw = strings.ToLower(strings.TrimSpace(kw))
		if kw == "" {
			continue
		}
		if _, ok := seen[kw]; ok {
			continue
		}
		seen[kw] = struct{}{}
		keywords = append(keywords, kw)
	}

	return &KeywordClassifier{keywords: keywords}
}

func (c *KeywordClassifier) Classify(text string) Verdict {
	text = strings.ToLower(strings.TrimSpace(text))
	if text == "" {
		return Verdict{}
	}

	for _, kw := range c.keywords {
		if strings.Contains(text, kw) {
			return Verdict{WantsScoring: true}
		}
	}

	return Verdict{}
}

func (c *KeywordClassifier) Keywords() []string {
	return append([]string(nil), c.keywords...)
}
