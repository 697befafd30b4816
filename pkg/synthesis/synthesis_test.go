package synthesis_test

import (
	"errors"
	"testing"

	"github.com/lifeops/lifeops/pkg/model"
	"github.com/lifeops/lifeops/pkg/synthesis"
	"github.com/m-mizutani/gt"
)

func TestParseFencedReply(t *testing.T) {
	reply := "```json\n{\"recommendation\":\"Ship\",\"reasoning\":\"tests green\",\"risks\":\"rollback\",\"confidence\":80}\n```"

	s, err := synthesis.Parse(reply)
	gt.NoError(t, err)
	gt.Equal(t, s.Recommendation, "Ship")
	gt.Equal(t, s.Reasoning, "tests green")
	gt.Equal(t, s.RiskFactors, []string{"rollback"})
	gt.Equal(t, s.Alternatives, []string{})
	gt.Equal(t, s.Confidence, 80.0)
}

func TestParseVariants(t *testing.T) {
	testCases := []struct {
		name         string
		reply        string
		risks        []string
		alternatives []string
		confidence   float64
	}{
		{
			name:         "bare object",
			reply:        `{"recommendation":"Wait","reasoning":"r","risks":["a","b"],"alternatives":["c"],"confidence":55.5}`,
			risks:        []string{"a", "b"},
			alternatives: []string{"c"},
			confidence:   55.5,
		},
		{
			name:         "plain fence",
			reply:        "```\n{\"recommendation\":\"Wait\",\"confidence\":10}\n```",
			risks:        []string{},
			alternatives: []string{},
			confidence:   10,
		},
		{
			name:         "single line fence",
			reply:        "```json {\"recommendation\":\"Wait\",\"alternatives\":\"delay a week\",\"confidence\":0}```",
			risks:        []string{},
			alternatives: []string{"delay a week"},
			confidence:   0,
		},
		{
			name:         "prose around the object",
			reply:        "Here is my analysis:\n{\"recommendation\":\"Wait\",\"risk_factors\":[\"x\"],\"confidence\":100}\nGood luck!",
			risks:        []string{"x"},
			alternatives: []string{},
			confidence:   100,
		},
		{
			name:         "null lists",
			reply:        `{"recommendation":"Wait","risks":null,"alternatives":null,"confidence":42}`,
			risks:        []string{},
			alternatives: []string{},
			confidence:   42,
		},
		{
			name:         "blank entries dropped",
			reply:        `{"recommendation":"Wait","risks":["", " x "],"alternatives":"","confidence":42}`,
			risks:        []string{"x"},
			alternatives: []string{},
			confidence:   42,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			s, err := synthesis.Parse(tc.reply)
			gt.NoError(t, err)
			gt.Equal(t, s.Recommendation, "Wait")
			gt.Equal(t, s.RiskFactors, tc.risks)
			gt.Equal(t, s.Alternatives, tc.alternatives)
			gt.Equal(t, s.Confidence, tc.confidence)
		})
	}
}

func TestParseFailures(t *testing.T) {
	testCases := []struct {
		name  string
		reply string
	}{
		{"empty", "   "},
		{"not json", "I think you should ship it."},
		{"broken json", "```json\n{\"recommendation\": \"Ship\",\n```"},
		{"missing recommendation", `{"reasoning":"r","confidence":50}`},
		{"empty recommendation", `{"recommendation":"  ","confidence":50}`},
		{"missing confidence", `{"recommendation":"Ship"}`},
		{"confidence above range", `{"recommendation":"Ship","confidence":150}`},
		{"confidence below range", `{"recommendation":"Ship","confidence":-1}`},
		{"confidence as string", `{"recommendation":"Ship","confidence":"high"}`},
		{"risks as number", `{"recommendation":"Ship","risks":3,"confidence":50}`},
		{"alternatives with objects", `{"recommendation":"Ship","alternatives":[{"a":1}],"confidence":50}`},
		{"array instead of object", `[{"recommendation":"Ship","confidence":50}]`},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := synthesis.Parse(tc.reply)
			gt.Error(t, err)
			gt.True(t, errors.Is(err, model.ErrSynthesisParse))
		})
	}
}

func TestStripFences(t *testing.T) {
	gt.Equal(t, synthesis.StripFences("  {\"a\":1}  "), `{"a":1}`)
	gt.Equal(t, synthesis.StripFences("```json\n{\"a\":1}\n```"), `{"a":1}`)
	gt.Equal(t, synthesis.StripFences("```\n{\"a\":1}\n```\n"), `{"a":1}`)
}

func TestBuildPrompt(t *testing.T) {
	memories := []*model.Memory{
		{Content: "Releases on Fridays caused two incidents last quarter"},
		{Content: "Team prefers Tuesday deploys"},
		nil,
	}
	consultations := []model.Consultation{
		{
			ID:        model.NewConsultationID(),
			AgentName: "System Core",
			Output:    map[string]any{"message": "Analyzing: Ship release?"},
		},
	}

	prompt, err := synthesis.BuildPrompt("Ship release?", memories, consultations)
	gt.NoError(t, err)
	gt.S(t, prompt).Contains(`"Ship release?"`)
	gt.S(t, prompt).Contains("- Releases on Fridays caused two incidents last quarter\n- Team prefers Tuesday deploys")
	gt.S(t, prompt).Contains("### System Core")
	gt.S(t, prompt).Contains("Analyzing: Ship release?")
	gt.S(t, prompt).Contains(`"confidence": 85`)
}

func TestBuildPromptWithoutContext(t *testing.T) {
	prompt, err := synthesis.BuildPrompt("Move to Berlin?", nil, nil)
	gt.NoError(t, err)
	gt.S(t, prompt).Contains("No relevant memories were found.")
	gt.S(t, prompt).Contains("No agents were consulted.")
}
