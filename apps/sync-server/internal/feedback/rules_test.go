package feedback

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/Harshitk-cp/broadcastsync/apps/sync-server/internal/model"
)

func TestNormalize(t *testing.T) {
	text := Normalize("Echoes LAST quarter's   pattern!")
	assert.Equal(t, []string{"echoes", "last", "quarter", "s", "pattern"}, text.tokens)
	assert.True(t, text.has("last quarter"))
	assert.True(t, text.has("echo*"))
	assert.False(t, text.has("echo"))
	assert.False(t, text.has("quarter pattern"))
}

func TestPriorityRules(t *testing.T) {
	c := DefaultClassifier()
	cases := []struct {
		rule    string
		message string
		want    model.Priority
	}{
		{"failure", "Thruster failed during replay", model.PriorityCritical},
		{"failure", "the relay is down", model.PriorityCritical},
		{"failure", "critical gap in telemetry", model.PriorityCritical},
		{"failure", "total outage in sector 4", model.PriorityCritical},
		{"error", "rendering error on capsule 12", model.PriorityHigh},
		{"error", "known issue with the legend", model.PriorityHigh},
		{"error", "problems with captions", model.PriorityHigh},
		{"concern", "some concern about pacing", model.PriorityMedium},
		{"concern", "please review the narration", model.PriorityMedium},
		{"concern", "warning light flickered", model.PriorityMedium},
		{"default", "lovely sequence", model.PriorityLow},
	}
	for _, tc := range cases {
		t.Run(tc.rule+"/"+tc.message, func(t *testing.T) {
			assert.Equal(t, tc.want, c.Priority(Normalize(tc.message)))
		})
	}
}

func TestPriorityFirstMatchWins(t *testing.T) {
	c := DefaultClassifier()
	assert.Equal(t, model.PriorityCritical, c.Priority(Normalize("review this error: the uplink failed")))
	assert.Equal(t, model.PriorityHigh, c.Priority(Normalize("review this error")))
}

func TestPriorityDoesNotMatchSubstrings(t *testing.T) {
	c := DefaultClassifier()
	// "download" must not trip the exact term "down"
	assert.Equal(t, model.PriorityLow, c.Priority(Normalize("download the archive")))
}

func TestTagRules(t *testing.T) {
	c := DefaultClassifier()
	cases := []struct {
		rule    string
		message string
		want    []string
	}{
		{"temporal", "same as last year", []string{"historical"}},
		{"temporal", "seen in a previous run", []string{"historical"}},
		{"repetition", "it happened again", []string{"recurring-issue"}},
		{"repetition", "this keeps recurring", []string{"recurring-issue"}},
		{"automation", "automated handoff", []string{"automation"}},
		{"telemetry", "telemetry stalls", []string{"telemetry"}},
		{"orbital", "satellite drifted", []string{"orbital"}},
		{"latency", "audio lags video", []string{"media", "latency"}},
		{"none", "looks great", []string{}},
	}
	for _, tc := range cases {
		t.Run(tc.rule+"/"+tc.message, func(t *testing.T) {
			assert.Equal(t, tc.want, c.Tags(Normalize(tc.message)))
		})
	}
}

func TestClassifyScenarioB(t *testing.T) {
	priority, tags := DefaultClassifier().Classify("This automation failure echoes last quarter's pattern")

	assert.Equal(t, model.PriorityCritical, priority)
	assert.Contains(t, tags, "historical")
	assert.Contains(t, tags, "recurring-issue")
	assert.Contains(t, tags, "automation")
}

func TestCustomRulesAreOrdered(t *testing.T) {
	c := NewClassifier(
		[]PriorityRule{
			{Name: "first", Match: Terms("alpha"), Priority: model.PriorityMedium},
			{Name: "second", Match: Terms("alpha"), Priority: model.PriorityCritical},
		},
		[]TagRule{
			{Name: "a", Match: Terms("alpha"), Tag: "x"},
			{Name: "b", Match: Terms("alpha"), Tag: "x"},
		},
	)
	p, tags := c.Classify("alpha")
	assert.Equal(t, model.PriorityMedium, p)
	assert.Equal(t, []string{"x"}, tags)
}
