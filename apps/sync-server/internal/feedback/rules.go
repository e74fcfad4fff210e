package feedback

import (
	"strings"
	"unicode"

	"github.com/Harshitk-cp/broadcastsync/apps/sync-server/internal/model"
)

// Text is a message normalized for rule matching: lowercase tokens of
// letters and digits.
type Text struct {
	tokens []string
	joined string
}

// Normalize tokenizes s
func Normalize(s string) Text {
	tokens := strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	return Text{tokens: tokens, joined: " " + strings.Join(tokens, " ") + " "}
}

// Predicate decides whether a rule applies to a message
type Predicate func(Text) bool

// Terms matches when any term is present. A term ending in "*" matches any
// token with that prefix; a term with spaces matches that exact token sequence.
func Terms(terms ...string) Predicate {
	return func(t Text) bool {
		for _, term := range terms {
			if t.has(term) {
				return true
			}
		}
		return false
	}
}

func (t Text) has(term string) bool {
	switch {
	case strings.Contains(term, " "):
		return strings.Contains(t.joined, " "+term+" ")
	case strings.HasSuffix(term, "*"):
		prefix := strings.TrimSuffix(term, "*")
		for _, tok := range t.tokens {
			if strings.HasPrefix(tok, prefix) {
				return true
			}
		}
		return false
	default:
		for _, tok := range t.tokens {
			if tok == term {
				return true
			}
		}
		return false
	}
}

// PriorityRule maps a predicate to a priority
type PriorityRule struct {
	Name     string
	Match    Predicate
	Priority model.Priority
}

// TagRule maps a predicate to a tag
type TagRule struct {
	Name  string
	Match Predicate
	Tag   string
}

// DefaultPriorityRules are evaluated top-down; the first match wins
var DefaultPriorityRules = []PriorityRule{
	{
		Name:     "failure",
		Match:    Terms("fail*", "critical", "crash*", "down", "outage*", "broken", "emergency", "fatal", "dead"),
		Priority: model.PriorityCritical,
	},
	{
		Name:     "error",
		Match:    Terms("error*", "issue*", "problem*", "bug*", "fault*", "wrong", "incorrect", "glitch*"),
		Priority: model.PriorityHigh,
	},
	{
		Name:     "concern",
		Match:    Terms("concern*", "warn*", "review*", "unclear", "question*", "check", "verify", "odd"),
		Priority: model.PriorityMedium,
	},
}

// DefaultTagRules are all evaluated; every match contributes its tag once
var DefaultTagRules = []TagRule{
	{
		Name:  "temporal",
		Match: Terms("last quarter", "last year", "last month", "last week", "last time", "previous*", "historic*", "earlier", "ago", "past", "prior"),
		Tag:   "historical",
	},
	{
		Name:  "repetition",
		Match: Terms("echo*", "again", "recurr*", "repeat*", "pattern*", "same issue", "keeps", "persist*", "once more"),
		Tag:   "recurring-issue",
	},
	{Name: "automation", Match: Terms("automat*"), Tag: "automation"},
	{Name: "telemetry", Match: Terms("telemetry"), Tag: "telemetry"},
	{Name: "orbital", Match: Terms("orbit*", "satellite*"), Tag: "orbital"},
	{Name: "constellation", Match: Terms("constellation*"), Tag: "constellation"},
	{Name: "timeline", Match: Terms("timeline*", "capsule*", "epoch*", "millenni*"), Tag: "timeline"},
	{Name: "media", Match: Terms("audio", "video", "stream*"), Tag: "media"},
	{Name: "latency", Match: Terms("latency", "lag*", "delay*", "sync"), Tag: "latency"},
	{Name: "power", Match: Terms("power", "battery", "thermal"), Tag: "power"},
}

// Classifier derives priority and tags from message text
type Classifier struct {
	priorities []PriorityRule
	tags       []TagRule
}

// NewClassifier creates a classifier from ordered rule lists
func NewClassifier(priorities []PriorityRule, tags []TagRule) *Classifier {
	return &Classifier{priorities: priorities, tags: tags}
}

// DefaultClassifier uses DefaultPriorityRules and DefaultTagRules
func DefaultClassifier() *Classifier {
	return NewClassifier(DefaultPriorityRules, DefaultTagRules)
}

// Priority returns the result of the first matching rule, or low
func (c *Classifier) Priority(t Text) model.Priority {
	for _, r := range c.priorities {
		if r.Match(t) {
			return r.Priority
		}
	}
	return model.PriorityLow
}

// Tags returns the tags of every matching rule in rule order
func (c *Classifier) Tags(t Text) []string {
	tags := []string{}
	seen := make(map[string]struct{})
	for _, r := range c.tags {
		if _, dup := seen[r.Tag]; dup {
			continue
		}
		if r.Match(t) {
			seen[r.Tag] = struct{}{}
			tags = append(tags, r.Tag)
		}
	}
	return tags
}

// Classify derives both priority and tags for message
func (c *Classifier) Classify(message string) (model.Priority, []string) {
	t := Normalize(message)
	return c.Priority(t), c.Tags(t)
}
