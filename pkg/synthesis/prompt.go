package synthesis

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"text/template"

	"github.com/lifeops/lifeops/pkg/model"
	"github.com/m-mizutani/goerr/v2"
)

//go:embed prompt/synthesis.md
var synthesisPromptRaw string

var synthesisPromptTmpl = template.Must(template.New("synthesis").Parse(synthesisPromptRaw))

type promptConsultation struct {
	Agent  string
	Output string
}

// BuildPrompt assembles the completion prompt from the question, the contents of the
// attached memories and the output of each consultation in log order
func BuildPrompt(question string, memories []*model.Memory, consultations []model.Consultation) (string, error) {
	contents := make([]string, 0, len(memories))
	for _, m := range memories {
		if m == nil || m.Content == "" {
			continue
		}
		contents = append(contents, m.Content)
	}

	entries := make([]promptConsultation, 0, len(consultations))
	for _, c := range consultations {
		raw, err := json.MarshalIndent(c.Output, "", "  ")
		if err != nil {
			return "", goerr.Wrap(err, "failed to marshal consultation output",
				goerr.V("consultation_id", c.ID),
				goerr.V("agent", c.AgentName))
		}
		entries = append(entries, promptConsultation{
			Agent:  c.AgentName,
			Output: string(raw),
		})
	}

	var buf bytes.Buffer
	if err := synthesisPromptTmpl.Execute(&buf, map[string]any{
		"Question":      question,
		"Memories":      contents,
		"Consultations": entries,
	}); err != nil {
		return "", goerr.Wrap(err, "failed to execute synthesis prompt template")
	}

	return buf.String(), nil
}
